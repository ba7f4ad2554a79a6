package lavago

// playerWire is the JSON shape of a player object returned by the REST
// API (GET/PATCH .../players/{guild}).
type playerWire struct {
	GuildID string  `json:"guildId"`
	Track   *Track  `json:"track"`
	Volume  int     `json:"volume"`
	Paused  bool    `json:"paused"`
	Voice   struct {
		Token     string `json:"token"`
		Endpoint  string `json:"endpoint"`
		SessionID string `json:"sessionId"`
	} `json:"voice"`
	Filters Filters `json:"filters,omitempty"`
}

func (w *playerWire) toPlayer() *Player {
	p := newPlayer(w.GuildID)
	p.Track = w.Track
	p.Volume = w.Volume
	p.Paused = w.Paused
	p.Voice = VoiceState{Token: w.Voice.Token, Endpoint: w.Voice.Endpoint, SessionID: w.Voice.SessionID}
	p.Filters = w.Filters
	return p
}

// apiErrorWire is the JSON shape of a >299 REST response body.
type apiErrorWire struct {
	Timestamp int64  `json:"timestamp,omitempty"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Path      string `json:"path,omitempty"`
}
