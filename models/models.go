package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - User, RefreshToken from user.go
// - Session from session.go
// - AnalysisReport and its metric types from report.go
// - RateLimitEvent, UserQuota from ratelimit.go

// Database schema overview:
// 1. users - Account records for authenticated users (anonymous devices have none)
// 2. refresh_tokens - Rotating refresh tokens, stored hashed
// 3. sessions - One analysis attempt per row, tracked queued -> processing -> complete|error
// 4. analysis_reports - The final AI-generated report, exactly one per session
// 5. rate_limits - Append-only event log consumed by the sliding-window limiter
// 6. user_quotas - Daily analysis allowance per user or anonymous device
