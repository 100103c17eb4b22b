// Package ethtaint and its sub-packages implement a taint tracker for ethereum networks.
/*
Given a source address and a start block, ethtaint marks the source as tainted and follows every value carrying
transaction out of (and into) each tainted address from the block its taint starts at. The counterparties of those
transactions become tainted in turn until no tainted address is left to trace.

Architecture

The tracker (package tracker) runs one trace at a time. It reads account histories through a chain agent (package
lib/chain) backed either by the Etherscan account API or by scanning the blocks of a node over JSON-RPC. Entities are
shared through an in-memory cache (package lib/cache) so each address, block and transaction exists once.

Progress is written to a checkpoint (package lib/checkpoint): two append-only text logs per source and start block
holding the tainted addresses with their blocks and the traced addresses. A canceled or failed trace is resumed by
running it again.

Every transaction seen is written through to a database (package lib/store) that can be PostgreSQL, MongoDB or memory.
Trace events (taint, page, processed transaction, traced address, reopened trace) can be published to a message broker
(package lib/msg, AMQP or Kafka) and are counted by Prometheus metrics (package lib/metrics).

Command line

ethtaint (cmd/ethtaint) traces an address to completion, serves a RESTful control API (package api) or prints the
events published by tracers. Configuration is read from a JSON file (see cmd/conf.json), ETHTAINT_* environment
variables and flags, in that order.

*/
package ethtaint
