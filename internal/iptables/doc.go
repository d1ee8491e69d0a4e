// Package iptables translates between operator rule requests and the iptables
// command line. It builds the argument vectors for append, delete and raw
// rule operations, runs them through an Executor, and parses the numbered,
// verbose `iptables -L` listing back into display-ready rows.
package iptables
