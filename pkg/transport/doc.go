// Package transport carries election messages between instances.
//
// This package handles:
//   - A link model with latency, jitter and pairwise partitions
//   - The wire codec (JSON framed, snappy compressed)
//   - Carriers: in-process delivery, and NNG push/pull sockets when built
//     with the nng tag
package transport
