// Package id defines the four namespaced 64-bit identity types shared
// across the process runtime: ProcessId, EnvironmentId, NodeId and
// MessageId. Each is a distinct named type (not an alias) so that passing
// one where another is expected is a compile error, matching the
// newtype-per-namespace split in the original runtime's distributed client.
package id

import "fmt"

// ProcessId uniquely identifies a process within the lifetime of its
// Environment. Never reused once allocated.
type ProcessId uint64

func (p ProcessId) String() string { return fmt.Sprintf("process:%d", uint64(p)) }

// EnvironmentId uniquely identifies an Environment.
type EnvironmentId uint64

func (e EnvironmentId) String() string { return fmt.Sprintf("environment:%d", uint64(e)) }

// NodeId uniquely identifies a node within a cluster.
type NodeId uint64

func (n NodeId) String() string { return fmt.Sprintf("node:%d", uint64(n)) }

// MessageId uniquely identifies an in-flight distributed request, for
// response correlation.
type MessageId uint64

func (m MessageId) String() string { return fmt.Sprintf("message:%d", uint64(m)) }
