// Package execctx holds the execution context: an immutable-by-update
// snapshot of inputs, variables, node outputs and loop/parallel frames,
// plus the template interpolation that reads it. Snapshots are owned by
// the single orchestrator goroutine; every mutation returns a fresh
// snapshot and never touches the receiver, so older snapshots stay valid
// for replay and forensics.
package execctx

import (
	"fmt"
)

// LoopFrame tracks one active loop. Iteration counts completed passes.
type LoopFrame struct {
	LoopNodeID string        `json:"loop_node_id"`
	Iteration  int           `json:"iteration"`
	Items      []interface{} `json:"items,omitempty"`
	ItemIndex  int           `json:"item_index"`
	Condition  string        `json:"condition,omitempty"`
}

// CurrentItem returns the item for the running iteration, if any.
func (f LoopFrame) CurrentItem() (interface{}, bool) {
	if f.Items == nil || f.ItemIndex < 0 || f.ItemIndex >= len(f.Items) {
		return nil, false
	}
	return f.Items[f.ItemIndex], true
}

// ParallelFrame tracks one in-flight parallel branch.
type ParallelFrame struct {
	ParallelNodeID string `json:"parallel_node_id"`
	BranchID       string `json:"branch_id"`
}

// Snapshot is the full execution context at one logical step.
type Snapshot struct {
	WorkflowID  string
	ExecutionID string

	Inputs       map[string]interface{}
	Variables    map[string]interface{}
	NodeOutputs  map[string]interface{}
	SharedMemory map[string]interface{}

	LoopFrames     []LoopFrame
	ParallelFrames []ParallelFrame

	// Size accounting over NodeOutputs.
	TotalBytes     int64
	OutputBytes    map[string]int64
	InsertionOrder []string

	// Outputs evicted by the size governor. Reads raise OUTPUT_PRUNED.
	PrunedOutputs map[string]bool

	// Canonical inputs, encoded once for path extraction.
	inputsRaw []byte
}

// New returns an empty context for an execution.
func New(workflowID, executionID string, inputs map[string]interface{}) *Snapshot {
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	raw, err := CanonicalJSON(inputs)
	if err != nil {
		raw = []byte("{}")
	}
	return &Snapshot{
		WorkflowID:    workflowID,
		ExecutionID:   executionID,
		Inputs:        inputs,
		Variables:     map[string]interface{}{},
		NodeOutputs:   map[string]interface{}{},
		SharedMemory:  map[string]interface{}{},
		OutputBytes:   map[string]int64{},
		PrunedOutputs: map[string]bool{},
		inputsRaw:     raw,
	}
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	return &c
}

func copyValues(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySizes(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFlags(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StoreNodeOutput records a node's result. size must be the canonical
// byte size of value (the governor computed it already; recomputing here
// would double-encode). A second write for the same node replaces the
// previous value and its accounting without moving the node's position
// in the insertion order.
func (s *Snapshot) StoreNodeOutput(nodeID string, value interface{}, size int64) *Snapshot {
	c := s.clone()
	c.NodeOutputs = copyValues(s.NodeOutputs)
	c.OutputBytes = copySizes(s.OutputBytes)

	if prev, exists := c.OutputBytes[nodeID]; exists {
		c.TotalBytes -= prev
	} else {
		c.InsertionOrder = append(append([]string(nil), s.InsertionOrder...), nodeID)
	}
	if s.PrunedOutputs[nodeID] {
		// A fresh write resurrects a pruned slot.
		c.PrunedOutputs = copyFlags(s.PrunedOutputs)
		delete(c.PrunedOutputs, nodeID)
	}
	c.NodeOutputs[nodeID] = value
	c.OutputBytes[nodeID] = size
	c.TotalBytes += size
	return c
}

// EvictOutputs removes the given node outputs and marks them pruned.
// Relative order of the surviving entries is preserved.
func (s *Snapshot) EvictOutputs(nodeIDs []string) *Snapshot {
	if len(nodeIDs) == 0 {
		return s
	}
	evict := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		evict[id] = true
	}

	c := s.clone()
	c.NodeOutputs = copyValues(s.NodeOutputs)
	c.OutputBytes = copySizes(s.OutputBytes)
	c.PrunedOutputs = copyFlags(s.PrunedOutputs)
	c.InsertionOrder = make([]string, 0, len(s.InsertionOrder))

	for _, id := range s.InsertionOrder {
		if !evict[id] {
			c.InsertionOrder = append(c.InsertionOrder, id)
			continue
		}
		c.TotalBytes -= c.OutputBytes[id]
		delete(c.NodeOutputs, id)
		delete(c.OutputBytes, id)
		c.PrunedOutputs[id] = true
	}
	return c
}

// SetVariable writes a variable.
func (s *Snapshot) SetVariable(name string, value interface{}) *Snapshot {
	c := s.clone()
	c.Variables = copyValues(s.Variables)
	c.Variables[name] = value
	return c
}

// GetVariable reads a variable.
func (s *Snapshot) GetVariable(name string) (interface{}, bool) {
	v, ok := s.Variables[name]
	return v, ok
}

// SetShared writes to the cross-node scratchpad.
func (s *Snapshot) SetShared(key string, value interface{}) *Snapshot {
	c := s.clone()
	c.SharedMemory = copyValues(s.SharedMemory)
	c.SharedMemory[key] = value
	return c
}

// PushLoopFrame opens a loop.
func (s *Snapshot) PushLoopFrame(f LoopFrame) *Snapshot {
	c := s.clone()
	c.LoopFrames = append(append([]LoopFrame(nil), s.LoopFrames...), f)
	return c
}

// TopLoopFrame returns the innermost active loop.
func (s *Snapshot) TopLoopFrame() (LoopFrame, bool) {
	if len(s.LoopFrames) == 0 {
		return LoopFrame{}, false
	}
	return s.LoopFrames[len(s.LoopFrames)-1], true
}

// PopLoopFrame closes the innermost loop. Loop frames are strictly
// LIFO: popping anything but the top is a frame mismatch and the
// executor treats it as fatal.
func (s *Snapshot) PopLoopFrame(loopNodeID string) (*Snapshot, error) {
	top, ok := s.TopLoopFrame()
	if !ok {
		return nil, fmt.Errorf("pop loop frame %s: stack is empty", loopNodeID)
	}
	if top.LoopNodeID != loopNodeID {
		return nil, fmt.Errorf("pop loop frame %s: top of stack is %s", loopNodeID, top.LoopNodeID)
	}
	c := s.clone()
	c.LoopFrames = append([]LoopFrame(nil), s.LoopFrames[:len(s.LoopFrames)-1]...)
	return c, nil
}

// AdvanceLoopFrame moves the innermost loop to its next iteration.
func (s *Snapshot) AdvanceLoopFrame(loopNodeID string) (*Snapshot, error) {
	top, ok := s.TopLoopFrame()
	if !ok {
		return nil, fmt.Errorf("advance loop frame %s: stack is empty", loopNodeID)
	}
	if top.LoopNodeID != loopNodeID {
		return nil, fmt.Errorf("advance loop frame %s: top of stack is %s", loopNodeID, top.LoopNodeID)
	}
	c := s.clone()
	c.LoopFrames = append([]LoopFrame(nil), s.LoopFrames...)
	f := &c.LoopFrames[len(c.LoopFrames)-1]
	f.Iteration++
	f.ItemIndex++
	return c, nil
}

// PushParallelFrame opens a branch.
func (s *Snapshot) PushParallelFrame(f ParallelFrame) *Snapshot {
	c := s.clone()
	c.ParallelFrames = append(append([]ParallelFrame(nil), s.ParallelFrames...), f)
	return c
}

// PopParallelFrame closes a branch. Sibling branches finish in any
// order, so the frame is matched by identity rather than position;
// popping a branch that is not open is a frame mismatch.
func (s *Snapshot) PopParallelFrame(parallelNodeID, branchID string) (*Snapshot, error) {
	idx := -1
	for i := len(s.ParallelFrames) - 1; i >= 0; i-- {
		f := s.ParallelFrames[i]
		if f.ParallelNodeID == parallelNodeID && f.BranchID == branchID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("pop parallel frame %s/%s: branch is not open", parallelNodeID, branchID)
	}
	c := s.clone()
	c.ParallelFrames = make([]ParallelFrame, 0, len(s.ParallelFrames)-1)
	c.ParallelFrames = append(c.ParallelFrames, s.ParallelFrames[:idx]...)
	c.ParallelFrames = append(c.ParallelFrames, s.ParallelFrames[idx+1:]...)
	return c, nil
}

// FinalOutputs collects the outputs of the given terminal nodes. Pruned
// or never-produced outputs are simply absent.
func (s *Snapshot) FinalOutputs(outputIDs []string) map[string]interface{} {
	outputs := make(map[string]interface{}, len(outputIDs))
	for _, id := range outputIDs {
		if v, ok := s.NodeOutputs[id]; ok {
			outputs[id] = v
		}
	}
	return outputs
}
