/*
Package health provides HTTP and TCP health check primitives.

No other package in this module imports pkg/health: the deployment
state machine in pkg/registry does not probe candidates (its
MarkCandidateReady is called directly), and its failure streak is
kept by registry.RecordHealthFailure, not by this package's Status.

Checker is the common interface implemented by HTTPChecker and
TCPChecker; Status tracks consecutive successes/failures against a
Config's Retries threshold.
*/
package health
