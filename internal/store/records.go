package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"hookscope/internal/host"
)

// Module is a loaded image and the runtime address of its header.
type Module struct {
	Name string
	Addr uint64
}

type moduleJSON struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

func (m Module) MarshalJSON() ([]byte, error) {
	return json.Marshal(moduleJSON{Name: m.Name, Addr: fmt.Sprintf("%#x", m.Addr)})
}

func (m *Module) UnmarshalJSON(data []byte) error {
	var raw moduleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	addr, err := strconv.ParseUint(raw.Addr, 0, 64)
	if err != nil {
		return fmt.Errorf("module %s: bad addr %q: %w", raw.Name, raw.Addr, err)
	}
	m.Name, m.Addr = raw.Name, addr
	return nil
}

// CollectModules lists the target's loaded images in load order.
func CollectModules(t host.Target) []Module {
	mods := t.Modules()
	out := make([]Module, 0, len(mods))
	for _, m := range mods {
		out = append(out, Module{Name: m.Name(), Addr: m.LoadAddress()})
	}
	return out
}

// Event is the register state of one stop.
type Event struct {
	Module    string            `json:"module"`
	Function  string            `json:"func"`
	Registers map[string]string `json:"registers"`
}

// BranchPair is the state before and after an indirect branch was taken.
type BranchPair struct {
	Before Event `json:"before"`
	After  Event `json:"after"`
}

// TypeRecord is a metadata accessor's return address and the description of
// the type it produced. It encodes as a two element array.
type TypeRecord struct {
	ReturnAddress uint64
	Description   string
}

func (r TypeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.ReturnAddress, r.Description})
}

func (r *TypeRecord) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("type record: want 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.ReturnAddress); err != nil {
		return fmt.Errorf("type record address: %w", err)
	}
	if err := json.Unmarshal(pair[1], &r.Description); err != nil {
		return fmt.Errorf("type record description: %w", err)
	}
	return nil
}
