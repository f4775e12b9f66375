package whatsapp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"wasend/internal/transport"
	"wasend/pkg/logx"
)

// client adapts one *whatsmeow.Client to the transport contract.
type client struct {
	id        string
	wa        *whatsmeow.Client
	container *sqlstore.Container
	log       logx.Logger

	handlerID uint32
	qrCancel  context.CancelFunc

	// evMu serializes emit against close so Destroy never races a send on a
	// closed channel.
	evMu      sync.Mutex
	events    chan transport.Event
	closed    bool
	closeOnce sync.Once
}

func newClient(id string, wa *whatsmeow.Client, container *sqlstore.Container, log logx.Logger) *client {
	return &client{
		id:        id,
		wa:        wa,
		container: container,
		log:       log,
		events:    make(chan transport.Event, 16),
	}
}

func (c *client) Events() <-chan transport.Event { return c.events }

func (c *client) Ready() bool {
	return c.wa.IsConnected() && c.wa.IsLoggedIn()
}

// Initialize registers the event handler, arranges pairing-code delivery for
// unpaired devices, and connects. Progress is reported on Events().
func (c *client) Initialize(ctx context.Context) error {
	c.handlerID = c.wa.AddEventHandler(c.handleEvent)

	if c.wa.Store.ID == nil {
		// GetQRChannel must be called before Connect. The channel lives as
		// long as the pairing flow, not the Initialize call, so it gets its
		// own cancellable context tied to Destroy.
		qrCtx, cancel := context.WithCancel(context.Background())
		c.qrCancel = cancel
		qrChan, err := c.wa.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("qr channel: %w", err)
		}
		go c.pumpQR(qrChan)
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emit(transport.Event{Kind: transport.EventCode, Code: item.Code})
		case whatsmeow.QRChannelEventError:
			c.emit(transport.Event{Kind: transport.EventAuthFailure, Reason: fmt.Sprint(item.Error)})
		default:
			// "success" is followed by events.Connected; "timeout" is
			// handled by the caller's provisioning bound.
		}
	}
}

func (c *client) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		c.emit(transport.Event{Kind: transport.EventReady, Identity: c.identity()})
	case *events.LoggedOut:
		c.emit(transport.Event{Kind: transport.EventLoggedOut, Reason: v.Reason.String()})
	case *events.StreamReplaced:
		c.emit(transport.Event{Kind: transport.EventLoggedOut, Reason: "stream replaced by another client"})
	}
}

func (c *client) identity() *transport.Identity {
	ident := &transport.Identity{DisplayName: c.wa.Store.PushName}
	if c.wa.Store.ID != nil {
		ident.Address = c.wa.Store.ID.User
	}
	return ident
}

func (c *client) emit(ev transport.Event) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		// The consumer owns a dedicated pump; a full buffer means it is
		// wedged. Dropping beats blocking whatsmeow's event dispatcher.
		c.log.Warn("event dropped", logx.String("kind", string(ev.Kind)))
	}
}

func (c *client) IsRegistered(ctx context.Context, canonical string) (bool, error) {
	resp, err := c.wa.IsOnWhatsApp(ctx, []string{"+" + canonical})
	if err != nil {
		return false, fmt.Errorf("registry lookup: %w", err)
	}
	if len(resp) == 0 {
		return false, nil
	}
	return resp[0].IsIn, nil
}

func (c *client) SendText(ctx context.Context, canonical, text string) (string, error) {
	jid := types.NewJID(canonical, types.DefaultUserServer)
	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	return resp.ID, nil
}

func (c *client) SendAttachment(ctx context.Context, canonical string, att transport.Attachment, caption string) (string, error) {
	data, err := os.ReadFile(att.Path)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}

	jid := types.NewJID(canonical, types.DefaultUserServer)
	var msg *waE2E.Message
	if strings.HasPrefix(att.MimeType, "image/") {
		up, err := c.wa.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return "", fmt.Errorf("upload image: %w", err)
		}
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(att.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	} else {
		up, err := c.wa.Upload(ctx, data, whatsmeow.MediaDocument)
		if err != nil {
			return "", fmt.Errorf("upload document: %w", err)
		}
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(att.FileName),
			FileName:      proto.String(att.FileName),
			Caption:       proto.String(caption),
			Mimetype:      proto.String(att.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}

	resp, err := c.wa.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("send attachment: %w", err)
	}
	return resp.ID, nil
}

// Destroy disconnects and closes the event stream. Credentials stay on disk;
// terminate purges them separately via Factory.Purge.
func (c *client) Destroy(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.qrCancel != nil {
			c.qrCancel()
		}
		c.wa.RemoveEventHandler(c.handlerID)
		c.wa.Disconnect()
		if err := c.container.Close(); err != nil {
			c.log.Warn("credential store close failed", logx.Err(err))
		}

		c.evMu.Lock()
		c.closed = true
		close(c.events)
		c.evMu.Unlock()
	})
	return nil
}
