// Package rate implements Redis fixed-window counters for sign-in and
// email-verification throttling.
//
// Counters use INCR plus EXPIRE on the first hit of a window. Key prefixes:
//   - rs:  sign-in failures per email
//   - rsi: sign-in failures per IP
//   - rv:  verification requests per user
package rate
