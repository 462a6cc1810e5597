package store

// ProviderProfile is a named template carrying a provider's server and
// codec defaults. A trunk referencing a known provider inherits the server;
// the "custom" provider requires an explicit sip_server.
type ProviderProfile struct {
	Server string
	Codecs string

	// PPIDomain, when set, makes outbound calls carry a
	// P-Preferred-Identity header against this domain (Telekom requires it).
	PPIDomain string
}

var providerProfiles = map[string]ProviderProfile{
	"plusnet_basic":   {Server: "sip.ipfonie.de", Codecs: "ulaw,alaw,g722"},
	"plusnet_connect": {Server: "sipconnect.ipfonie.de", Codecs: "ulaw,alaw,g722"},
	"telekom_allip":   {Server: "tel.t-online.de", Codecs: "alaw,g722", PPIDomain: "tel.t-online.de"},
}

// ProviderProfileFor returns the profile for a provider name, if known.
func ProviderProfileFor(name string) (ProviderProfile, bool) {
	p, ok := providerProfiles[name]
	return p, ok
}

// Server returns the trunk's effective SIP server: the provider template's
// server for known providers, the explicit sip_server otherwise.
func (t Trunk) Server() string {
	if p, ok := ProviderProfileFor(t.Provider); ok {
		return p.Server
	}
	return t.SIPServer
}

// EffectiveCodecs returns the trunk's codec list, falling back to the
// provider template.
func (t Trunk) EffectiveCodecs() string {
	if t.Codecs != "" {
		return t.Codecs
	}
	if p, ok := ProviderProfileFor(t.Provider); ok {
		return p.Codecs
	}
	return "ulaw,alaw"
}
