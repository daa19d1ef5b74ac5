package datastore

import (
	"fmt"
	"sort"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/store"
)

// Config returns the persisted bridge configuration.
func (d *Datastore) Config() hue.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.config.Clone()
}

// UpdateConfig applies fn to a copy of the configuration and persists it.
func (d *Datastore) UpdateConfig(fn func(c *hue.Config)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.s.config.Clone()
	fn(&c)
	return d.saveConfig(c)
}

func (d *Datastore) saveConfig(c hue.Config) error {
	b := &batch{}
	b.put(store.BucketMeta, keyConfig, c)
	if err := d.apply(b); err != nil {
		return err
	}
	d.s.config = c
	return nil
}

func (d *Datastore) LinkButton() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.config.LinkButton
}

// SetLinkButton toggles the virtual link button and announces the change.
func (d *Datastore) SetLinkButton(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.s.config.Clone()
	c.LinkButton = on
	if err := d.saveConfig(c); err != nil {
		return err
	}
	d.pub.Publish(events.Event{Type: events.LinkButton, Value: on})
	return nil
}

// CreateUser adds a whitelist entry for deviceType and returns its username.
func (d *Datastore) CreateUser(deviceType string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.s.config.Clone()
	username := token("U")
	for _, ok := c.Whitelist[username]; ok; _, ok = c.Whitelist[username] {
		username = token("U")
	}
	now := hue.FormatTime(d.now())
	c.Whitelist[username] = hue.WhitelistEntry{
		LastUseDate: now,
		CreateDate:  now,
		Name:        deviceType,
	}
	if err := d.saveConfig(c); err != nil {
		return "", err
	}
	d.logger.Info("user created", "username", username, "devicetype", deviceType)
	return username, nil
}

// ServiceUser returns the username whitelisted for deviceType, creating it
// on first use. Internal integrations call the API through it.
func (d *Datastore) ServiceUser(deviceType string) (string, error) {
	d.mu.Lock()
	var names []string
	for u, e := range d.s.config.Whitelist {
		if e.Name == deviceType {
			names = append(names, u)
		}
	}
	d.mu.Unlock()
	if len(names) > 0 {
		sort.Strings(names)
		return names[0], nil
	}
	return d.CreateUser(deviceType)
}

func (d *Datastore) DeleteUser(username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.s.config.Whitelist[username]; !ok {
		return fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	c := d.s.config.Clone()
	delete(c.Whitelist, username)
	return d.saveConfig(c)
}

// ValidUser reports whether username is whitelisted.
func (d *Datastore) ValidUser(username string) bool {
	if username == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.s.config.Whitelist[username]
	return ok
}
