package adapter

import (
	"sort"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

// Manage operations.
const (
	OpClearConfig = "clearconfig"
	OpGetConfig   = "getconfig"
	OpSetConfig   = "setconfig"
	OpLightIDs    = "getlightids"
)

// ClearConfig resets everything except lights to factory state. The
// daylight sensor is recreated.
func (r *Registry) ClearConfig() error {
	if err := r.ds.ClearConfiguration(); err != nil {
		return err
	}
	r.notify(OpClearConfig)
	return nil
}

// GetConfig exports the whole datastore.
func (r *Registry) GetConfig() datastore.Document {
	doc := r.ds.Export()
	r.notify(OpGetConfig)
	return doc
}

// SetConfig replaces the whole datastore with an exported document.
func (r *Registry) SetConfig(data []byte) error {
	if err := r.ds.Import(data); err != nil {
		return err
	}
	r.notify(OpSetConfig)
	return nil
}

// LightIDs lists every light with its owning client and type code, in id
// order.
func (r *Registry) LightIDs() []LightInfo {
	nodes := r.ds.LightNodes()
	out := make([]LightInfo, 0, len(nodes))
	for id, n := range nodes {
		info := LightInfo{ClientID: n.ClientID, Type: n.Type, ID: id}
		if t, ok := hue.LightTypeByName(n.Type); ok {
			info.Type = t.HexCode()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return hue.CompareIDs(out[i].ID, out[j].ID) < 0 })
	r.notify(OpLightIDs)
	return out
}

func (r *Registry) notify(op string) {
	r.pub.Publish(events.Event{Type: events.Manage, Data: op})
}
