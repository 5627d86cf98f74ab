/*
Package pathutil converts between filesystem paths and db-paths
("<root_id>/<rel_path>") and resolves which registered root owns a
given filesystem path via longest-prefix matching.

root_id is a stable 8-hex-char hash of a root's canonical path so that
db-paths survive process restarts without needing a lookup table.
*/
package pathutil
