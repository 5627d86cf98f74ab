/*
Package scheduler implements sari's Scheduling Coordinator: an aging
priority queue of indexing work, partitioned per workspace root so one
root's burst cannot starve another, plus a search-traffic grace window
that makes the indexer yield CPU and I/O to interactive reads.

Nothing in this package talks to the filesystem or the database; it
only orders work that pkg/indexer hands it.
*/
package scheduler
