package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Media kinds as they appear in content markers.
const (
	MediaImage = "image"
	MediaVoice = "voice"
	MediaAudio = "audio"
	MediaFile  = "file"
)

var mimeExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
}

var kindExt = map[string]string{
	MediaImage: ".jpg",
	MediaVoice: ".ogg",
	MediaAudio: ".mp3",
	MediaFile:  "",
}

// mediaRef identifies the single attachment of a message.
type mediaRef struct {
	kind   string
	fileID string
	mime   string
}

// Extension picks a file extension from the MIME type, falling back to the
// media kind.
func Extension(kind, mime string) string {
	if ext, ok := mimeExt[mime]; ok {
		return ext
	}
	return kindExt[kind]
}

// attachmentOf returns the message attachment in priority order photo,
// voice, audio, document. Photos use the largest size.
func attachmentOf(msg *models.Message) (mediaRef, bool) {
	switch {
	case len(msg.Photo) > 0:
		return mediaRef{kind: MediaImage, fileID: msg.Photo[len(msg.Photo)-1].FileID}, true
	case msg.Voice != nil:
		return mediaRef{kind: MediaVoice, fileID: msg.Voice.FileID, mime: msg.Voice.MimeType}, true
	case msg.Audio != nil:
		return mediaRef{kind: MediaAudio, fileID: msg.Audio.FileID, mime: msg.Audio.MimeType}, true
	case msg.Document != nil:
		return mediaRef{kind: MediaFile, fileID: msg.Document.FileID, mime: msg.Document.MimeType}, true
	}
	return mediaRef{}, false
}

// mediaPath is {dir}/{first 16 chars of file id}{ext}.
func mediaPath(dir string, ref mediaRef) string {
	name := ref.fileID
	if len(name) > 16 {
		name = name[:16]
	}
	return filepath.Join(dir, name+Extension(ref.kind, ref.mime))
}

// download fetches the attachment into dir and returns the local path.
func download(ctx context.Context, api BotAPI, client *http.Client, dir string, ref mediaRef) (string, error) {
	f, err := api.GetFile(ctx, &bot.GetFileParams{FileID: ref.fileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.FileDownloadLink(f), nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	path := mediaPath(dir, ref)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("write media: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return path, nil
}
