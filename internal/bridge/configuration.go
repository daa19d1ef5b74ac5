package bridge

import (
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

// Fixed identity of the emulated bridge.
const (
	modelID          = "BSB002"
	apiVersion       = "1.23.0"
	swVersion        = "99999999"
	datastoreVersion = "68"
)

func configurationRoutes(h *handler) *family {
	return &family{name: "configuration", h: h, routes: []route{
		public(post(`^/api/?$`, h.createUser)),
		public(get(`^/api/(\w+)/config$`, h.getConfig)),
		put(`^/api/(\w+)/config$`, h.putConfig),
		del(`^/api/(\w+)/config/whitelist/(\w+)$`, h.deleteUser),
		get(`^/api/(\w+)$`, h.getFullState),
	}}
}

type backup struct {
	Status    string `json:"status"`
	ErrorCode int    `json:"errorcode"`
}

type deviceTypes struct {
	Bridge  bool     `json:"bridge"`
	Lights  []string `json:"lights"`
	Sensors []string `json:"sensors"`
}

type swUpdate struct {
	UpdateState    int         `json:"updatestate"`
	CheckForUpdate bool        `json:"checkforupdate"`
	DeviceTypes    deviceTypes `json:"devicetypes"`
	URL            string      `json:"url"`
	Text           string      `json:"text"`
	Notify         bool        `json:"notify"`
}

type bridgeUpdate struct {
	State       string `json:"state"`
	LastInstall string `json:"lastinstall"`
}

type autoInstall struct {
	UpdateTime string `json:"updatetime"`
	On         bool   `json:"on"`
}

type swUpdate2 struct {
	CheckForUpdate bool         `json:"checkforupdate"`
	LastChange     string       `json:"lastchange"`
	Bridge         bridgeUpdate `json:"bridge"`
	State          string       `json:"state"`
	AutoInstall    autoInstall  `json:"autoinstall"`
}

// FullConfig is the configuration shown to authorized users.
type FullConfig struct {
	Name             string                        `json:"name"`
	BridgeID         string                        `json:"bridgeid"`
	ModelID          string                        `json:"modelid"`
	DatastoreVersion string                        `json:"datastoreversion"`
	MAC              string                        `json:"mac"`
	ZigbeeChannel    int                           `json:"zigbeechannel"`
	DHCP             bool                          `json:"dhcp"`
	IPAddress        string                        `json:"ipaddress"`
	Netmask          string                        `json:"netmask"`
	Gateway          string                        `json:"gateway"`
	ProxyAddress     string                        `json:"proxyaddress"`
	ProxyPort        int                           `json:"proxyport"`
	UTC              string                        `json:"UTC"`
	LocalTime        string                        `json:"localtime"`
	Timezone         string                        `json:"timezone"`
	Whitelist        map[string]hue.WhitelistEntry `json:"whitelist"`
	APIVersion       string                        `json:"apiversion"`
	SWVersion        string                        `json:"swversion"`
	LinkButton       bool                          `json:"linkbutton"`
	PortalServices   bool                          `json:"portalservices"`
	FactoryNew       bool                          `json:"factorynew"`
	ReplacesBridgeID *string                       `json:"replacesbridgeid"`
	StarterKitID     string                        `json:"starterkitid"`
	Backup           backup                        `json:"backup"`
	SWUpdate         swUpdate                      `json:"swupdate"`
	SWUpdate2        swUpdate2                     `json:"swupdate2"`
}

// MinimalConfig is the configuration anyone may read.
type MinimalConfig struct {
	Name             string  `json:"name"`
	SWVersion        string  `json:"swversion"`
	APIVersion       string  `json:"apiversion"`
	MAC              string  `json:"mac"`
	BridgeID         string  `json:"bridgeid"`
	FactoryNew       bool    `json:"factorynew"`
	ReplacesBridgeID *string `json:"replacesbridgeid"`
	ModelID          string  `json:"modelid"`
}

// FullState is the response to GET /api/<username>.
type FullState struct {
	Lights        map[string]hue.Light        `json:"lights"`
	Groups        map[string]hue.Group        `json:"groups"`
	Config        FullConfig                  `json:"config"`
	Schedules     map[string]hue.Schedule     `json:"schedules"`
	Scenes        map[string]hue.Scene        `json:"scenes"`
	Sensors       map[string]hue.Sensor       `json:"sensors"`
	Rules         map[string]hue.Rule         `json:"rules"`
	Resourcelinks map[string]hue.Resourcelink `json:"resourcelinks"`
}

func (h *handler) fullConfig() FullConfig {
	c := h.ds.Config()
	n := h.ds.Network()
	now := h.ds.Now()
	return FullConfig{
		Name:             c.Name,
		BridgeID:         n.BridgeID(),
		ModelID:          modelID,
		DatastoreVersion: datastoreVersion,
		MAC:              n.MAC,
		ZigbeeChannel:    c.ZigbeeChannel,
		IPAddress:        n.Address,
		Netmask:          n.Netmask,
		Gateway:          n.Gateway,
		ProxyAddress:     "none",
		UTC:              hue.FormatUTC(now),
		LocalTime:        hue.FormatTime(now),
		Timezone:         c.Timezone,
		Whitelist:        c.Whitelist,
		APIVersion:       apiVersion,
		SWVersion:        swVersion,
		LinkButton:       c.LinkButton,
		PortalServices:   c.PortalServices,
		Backup:           backup{Status: "idle"},
		SWUpdate: swUpdate{
			DeviceTypes: deviceTypes{Lights: []string{}, Sensors: []string{}},
		},
		SWUpdate2: swUpdate2{
			LastChange: "2018-02-02T00:00:00",
			Bridge:     bridgeUpdate{State: "noupdates", LastInstall: "2018-02-02T00:00:00"},
			State:      "noupdates",
			AutoInstall: autoInstall{
				UpdateTime: "T00:00:00",
			},
		},
	}
}

func (h *handler) minimalConfig() MinimalConfig {
	n := h.ds.Network()
	return MinimalConfig{
		Name:       h.ds.Config().Name,
		SWVersion:  swVersion,
		APIVersion: apiVersion,
		MAC:        n.MAC,
		BridgeID:   n.BridgeID(),
		ModelID:    modelID,
	}
}

func (h *handler) createUser(req Request, _ []string) Response {
	if !h.ds.LinkButton() {
		return errorResponse(NewAPIError(ErrLinkButtonPressed, ""))
	}
	deviceType, _ := req.Body.String("devicetype")
	username, err := h.ds.CreateUser(deviceType)
	if err != nil {
		h.logger.Error("create user", "err", err)
		return internalError("")
	}
	h.emit(events.UserCreated, username, nil)
	var r results
	r.success("username", username)
	return r.response()
}

// getConfig shows the full configuration to whitelisted users and while
// the link button is pressed.
func (h *handler) getConfig(_ Request, m []string) Response {
	if h.ds.ValidUser(m[1]) || h.ds.LinkButton() {
		return jsonResponse(h.fullConfig())
	}
	return jsonResponse(h.minimalConfig())
}

func (h *handler) putConfig(req Request, _ []string) Response {
	var r results
	var changed bool
	b := req.Body
	for _, key := range b.Keys() {
		path := "/config/" + key
		switch key {
		case "linkbutton":
			v, ok := b.Bool(key)
			if !ok {
				continue
			}
			if err := h.ds.SetLinkButton(v); err != nil {
				h.logger.Error("set link button", "err", err)
				r.fail(NewAPIError(ErrInternal, path))
				continue
			}
			r.success(path, v)
		case "name", "timezone":
			v, ok := b.String(key)
			if !ok {
				continue
			}
			if err := h.ds.UpdateConfig(func(c *hue.Config) {
				if key == "name" {
					c.Name = v
				} else {
					c.Timezone = v
				}
			}); err != nil {
				r.fail(NewAPIError(ErrInternal, path))
				continue
			}
			changed = true
			r.success(path, v)
		case "portalservices":
			v, ok := b.Bool(key)
			if !ok {
				continue
			}
			if err := h.ds.UpdateConfig(func(c *hue.Config) { c.PortalServices = v }); err != nil {
				r.fail(NewAPIError(ErrInternal, path))
				continue
			}
			changed = true
			r.success(path, v)
		case "zigbeechannel":
			v, ok := b.Int(key)
			if !ok {
				continue
			}
			if err := h.ds.UpdateConfig(func(c *hue.Config) { c.ZigbeeChannel = v }); err != nil {
				r.fail(NewAPIError(ErrInternal, path))
				continue
			}
			changed = true
			r.success(path, v)
		case "UTC", "dhcp", "touchlink":
			// Acknowledged; the emulated bridge takes time and network
			// settings from the host.
			r.success(path, b.Value(key))
		}
	}
	if changed {
		h.emit(events.ConfigModified, "", nil)
	}
	return r.response()
}

func (h *handler) deleteUser(_ Request, m []string) Response {
	username := m[2]
	if err := h.ds.DeleteUser(username); err != nil {
		return failure(err, "/config/whitelist/"+username)
	}
	h.emit(events.UserDeleted, username, nil)
	return deleted("/config/whitelist/" + username)
}

func (h *handler) getFullState(_ Request, _ []string) Response {
	groups := h.ds.Groups()
	lights := h.ds.Lights()
	for id, g := range groups {
		g.State = aggregateState(lights, g.Lights)
		groups[id] = g
	}
	return jsonResponse(FullState{
		Lights:        lights,
		Groups:        groups,
		Config:        h.fullConfig(),
		Schedules:     h.ds.Schedules(),
		Scenes:        h.ds.Scenes(),
		Sensors:       h.ds.Sensors(),
		Rules:         h.ds.Rules(),
		Resourcelinks: h.ds.Resourcelinks(),
	})
}
