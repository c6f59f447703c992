// Package pgstore stores profiles in PostgreSQL.
//
// Rows live in the profiles table created by the embedded migrations
// ([RunMigrations]). A trigger publishes the user id of every changed row
// on the profile_changes channel; one dedicated pgx connection listens and
// fans notifications out to open watches.
package pgstore
