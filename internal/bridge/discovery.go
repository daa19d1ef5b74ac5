package bridge

import (
	"bytes"
	"strings"
	"text/template"
)

var descriptionTemplate = template.Must(template.New("description").Parse(
	`<?xml version="1.0" encoding="UTF-8" ?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<specVersion>
<major>1</major>
<minor>0</minor>
</specVersion>
<URLBase>http://{{.Address}}:{{.Port}}/</URLBase>
<device>
<deviceType>urn:schemas-upnp-org:device:Basic:1</deviceType>
<friendlyName>Philips hue ({{.Address}})</friendlyName>
<manufacturer>Royal Philips Electronics</manufacturer>
<manufacturerURL>http://www.philips.com</manufacturerURL>
<modelDescription>Philips hue Personal Wireless Lighting</modelDescription>
<modelName>Philips hue bridge 2015</modelName>
<modelNumber>BSB002</modelNumber>
<modelURL>http://www.meethue.com</modelURL>
<serialNumber>{{.Serial}}</serialNumber>
<UDN>uuid:2f402f80-da50-11e1-9b23-{{.Serial}}</UDN>
<presentationURL>index.html</presentationURL>
<iconList>
<icon>
<mimetype>image/png</mimetype>
<height>48</height>
<width>48</width>
<depth>24</depth>
<url>hue_logo_0.png</url>
</icon>
<icon>
<mimetype>image/png</mimetype>
<height>120</height>
<width>120</width>
<depth>24</depth>
<url>hue_logo_3.png</url>
</icon>
</iconList>
</device>
</root>
`))

func discoveryRoutes(h *handler) *family {
	return &family{name: "discovery", h: h, routes: []route{
		public(get(`^/description\.xml$`, h.getDescription)),
	}}
}

// Description renders the UPnP device descriptor advertised to discovery
// clients.
func Description(address string, port int, mac string) ([]byte, error) {
	var buf bytes.Buffer
	err := descriptionTemplate.Execute(&buf, struct {
		Address string
		Port    int
		Serial  string
	}{address, port, strings.ReplaceAll(mac, ":", "")})
	return buf.Bytes(), err
}

func (h *handler) getDescription(_ Request, _ []string) Response {
	n := h.ds.Network()
	body, err := Description(n.Address, n.Port, n.MAC)
	if err != nil {
		h.logger.Error("render description", "err", err)
		return Response{Status: 500}
	}
	return Response{ContentType: "application/xml", Body: body}
}
