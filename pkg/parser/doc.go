/*
Package parser extracts symbols and relations from source file content.

A Registry dispatches by file extension to one of three kinds of
Parser: a tree-sitter-backed handler for languages with a compiled
grammar available, a GenericRegexParser built from a per-extension
config for languages without one, or no parser at all (the caller
records ast_status=skipped). Parsers never touch the filesystem; they
operate on content already read and decoded by the caller.
*/
package parser
