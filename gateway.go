package lavago

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Member is the minimal view of a guild member the Embedder needs in order
// to decide which voice channel to join on behalf of the bot.
type Member struct {
	GuildID   string
	ChannelID string
}

// Embedder is the chat-platform gateway collaborator the orchestrator
// treats as external: voice channel membership queries plus connect and
// disconnect. The core never touches Discord primitives directly.
type Embedder interface {
	InAudioChannel(member Member) bool
	Connect(guildID, channelID string) error
	Disconnect(guildID string) error
}

// DiscordgoEmbedder is the default Embedder, adapting a *discordgo.Session.
// It also captures voice-state/voice-server gateway pushes and feeds them,
// as a resolved VoiceState, to the owning Client's link for the guild —
// the wiring the teacher performed directly on Node is moved to this
// boundary collaborator instead.
type DiscordgoEmbedder struct {
	sess     *discordgo.Session
	client   *Client
	selfMute bool
	selfDeaf bool

	states sync.Map // map[guildID]*discordgo.VoiceState
}

// NewDiscordgoEmbedder registers voice-state/voice-server handlers on sess
// and returns the adapter. client may be nil, in which case voice pushes are
// recorded but not forwarded to any link and no pending join is fulfilled;
// the client cannot be attached after construction.
func NewDiscordgoEmbedder(sess *discordgo.Session, client *Client, selfDeaf bool) *DiscordgoEmbedder {
	e := &DiscordgoEmbedder{sess: sess, client: client, selfDeaf: selfDeaf}
	sess.AddHandler(e.onVoiceStateUpdate)
	sess.AddHandler(e.onVoiceServerUpdate)
	return e
}

func (e *DiscordgoEmbedder) InAudioChannel(member Member) bool {
	return member.ChannelID != ""
}

func (e *DiscordgoEmbedder) Connect(guildID, channelID string) error {
	return e.sess.ChannelVoiceJoinManual(guildID, channelID, e.selfMute, e.selfDeaf)
}

func (e *DiscordgoEmbedder) Disconnect(guildID string) error {
	return e.sess.ChannelVoiceJoinManual(guildID, "", e.selfMute, e.selfDeaf)
}

func (e *DiscordgoEmbedder) onVoiceStateUpdate(sess *discordgo.Session, evt *discordgo.VoiceStateUpdate) {
	if sess.State.User == nil || evt.UserID != sess.State.User.ID {
		return
	}
	e.states.Store(evt.GuildID, evt.VoiceState)
	if evt.ChannelID != "" && e.client != nil {
		e.client.fulfillPendingJoin(evt.GuildID)
	}
}

func (e *DiscordgoEmbedder) onVoiceServerUpdate(sess *discordgo.Session, evt *discordgo.VoiceServerUpdate) {
	if e.client == nil {
		return
	}
	v, ok := e.states.Load(evt.GuildID)
	if !ok {
		return
	}
	vs, _ := v.(*discordgo.VoiceState)
	if vs == nil {
		return
	}
	link, ok := e.client.linkForGuild(evt.GuildID)
	if !ok {
		return
	}
	link.UpdateVoiceState(context.Background(), VoiceState{
		Token:     evt.Token,
		Endpoint:  evt.Endpoint,
		SessionID: vs.SessionID,
	})
}
