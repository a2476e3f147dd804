package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxgatehq/voxgate/internal/devstate"
	"github.com/voxgatehq/voxgate/internal/wire"
)

// ErrMusicUnauthorized signals the catalog requires account linking before
// it serves results.
var ErrMusicUnauthorized = errors.New("intent: music catalog not authorized")

// MusicCatalog is the music lookup surface the music handler talks to.
type MusicCatalog interface {
	// Search returns playable tracks for a free-text query. Returns
	// ErrMusicUnauthorized when the device has not linked an account.
	Search(ctx context.Context, query, deviceID, clientIP string) ([]devstate.AudioTrack, error)

	// AuthQRCode returns a scannable login token for account linking.
	AuthQRCode(ctx context.Context, deviceID, clientIP string) (string, error)
}

const (
	musicNoResource  = "No matching resources found."
	musicPlaying     = "Now playing"
	musicUnavailable = "Music service is temporarily unavailable. Please try again later."
	musicAuthNeeded  = "This feature requires music service authorization. Please scan the QR code to log in."
)

// demoPlaylist backs the handler when no catalog is configured or the
// catalog fails.
var demoPlaylist = []devstate.AudioTrack{
	{SongID: 1, AlbumID: 1, SingerID: 1, SongName: "Morning Breeze", AlbumName: "Demo Collection",
		Duration: 186, CoverURL: "https://cdn.voxgate.dev/demo/morning-breeze.jpg",
		StoreURL: "https://cdn.voxgate.dev/demo/morning-breeze.mp3"},
	{SongID: 2, AlbumID: 1, SingerID: 2, SongName: "River Stones", AlbumName: "Demo Collection",
		Duration: 214, CoverURL: "https://cdn.voxgate.dev/demo/river-stones.jpg",
		StoreURL: "https://cdn.voxgate.dev/demo/river-stones.mp3"},
	{SongID: 3, AlbumID: 2, SingerID: 3, SongName: "Paper Lanterns", AlbumName: "Night Walks",
		Duration: 243, CoverURL: "https://cdn.voxgate.dev/demo/paper-lanterns.jpg",
		StoreURL: "https://cdn.voxgate.dev/demo/paper-lanterns.mp3"},
}

// MusicAction resolves playback requests against a music catalog. The
// classifier hands it "song|artist"; unknown halves fall back in order of
// song, artist, then a popular-music query. The result always
// short-circuits with a music command.
type MusicAction struct {
	catalog MusicCatalog
	logger  *slog.Logger
}

var _ Action = (*MusicAction)(nil)

// NewMusicAction builds the music handler. A nil catalog serves the demo
// playlist.
func NewMusicAction(catalog MusicCatalog) *MusicAction {
	return &MusicAction{catalog: catalog, logger: slog.Default()}
}

// Name implements Action.
func (a *MusicAction) Name() string { return IntentMusic }

// SystemPrompt implements Action.
func (a *MusicAction) SystemPrompt() string { return "" }

// Process implements Action.
func (a *MusicAction) Process(ctx context.Context, req Request) (ActionResult, error) {
	song, artist := splitSongArtist(req.Content)

	query := "popular music"
	switch {
	case song != "unknown" && song != "":
		query = song
	case artist != "unknown" && artist != "":
		query = artist
	}

	deviceID, clientIP := deviceIdentity(ctx, req.Repo)

	if a.catalog == nil {
		return playResult(demoPlaylist), nil
	}

	tracks, err := a.catalog.Search(ctx, query, deviceID, clientIP)
	switch {
	case errors.Is(err, ErrMusicUnauthorized):
		return a.authResult(ctx, deviceID, clientIP)
	case err != nil:
		a.logger.Error("music catalog query failed",
			"device_id", deviceID, "query", query, "error", err)
		return playResult(demoPlaylist), nil
	case len(tracks) == 0:
		return ActionResult{
			UserPrompt: musicNoResource,
			MetaData:   wire.BuildCommand(wire.CommandMusic, "invalid", nil),
		}, nil
	}
	return playResult(tracks), nil
}

func (a *MusicAction) authResult(ctx context.Context, deviceID, clientIP string) (ActionResult, error) {
	code, err := a.catalog.AuthQRCode(ctx, deviceID, clientIP)
	if err != nil {
		return ActionResult{
			UserPrompt: musicUnavailable,
			MetaData:   wire.BuildCommand(wire.CommandMusic, "invalid", nil),
		}, nil
	}
	return ActionResult{
		UserPrompt: musicAuthNeeded,
		MetaData:   wire.BuildCommand(wire.CommandMusic, "auth", map[string]any{"code": code}),
	}, nil
}

func playResult(tracks []devstate.AudioTrack) ActionResult {
	return ActionResult{
		UserPrompt: fmt.Sprintf("%s: %s", musicPlaying, tracks[0].SongName),
		MetaData: wire.BuildCommand(wire.CommandMusic, "play",
			map[string]any{"songs": tracks}),
	}
}

// splitSongArtist parses the classifier's "song|artist" content.
func splitSongArtist(content string) (song, artist string) {
	song, artist, found := strings.Cut(content, "|")
	if !found {
		return strings.TrimSpace(content), "unknown"
	}
	return strings.TrimSpace(song), strings.TrimSpace(artist)
}

// deviceIdentity pulls the device id and reported IP for catalog calls.
func deviceIdentity(ctx context.Context, repo *devstate.Repository) (deviceID, clientIP string) {
	if repo == nil {
		return "", ""
	}
	deviceID = repo.DeviceID()
	if v, err := repo.GetField(ctx, devstate.FieldIP); err == nil {
		if ip, ok := v.(string); ok {
			clientIP = ip
		}
	}
	return deviceID, clientIP
}
