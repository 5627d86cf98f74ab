/*
Package config collects every environment variable sari's core
recognizes into one struct, resolved once at startup.

Nothing here talks to the filesystem beyond os.Getenv; component
packages receive an already-parsed Config rather than reading the
environment themselves, a direct-env-read idiom that skips pulling in
a dedicated config library like viper for a handful of settings.
*/
package config
