package evolution

import (
	qrcode "github.com/skip2/go-qrcode"
)

// PairingQRPNG renders the envelope's QR content (or, failing that, its
// pairing code) as a PNG of the given pixel size. Useful when the gateway
// omits the pre-rendered base64 image.
func (w *Webhook) PairingQRPNG(size int) ([]byte, error) {
	content := w.QRContent()
	if content == "" {
		content = w.PairingCode()
	}
	if content == "" {
		return nil, &Error{Kind: KindWebhookProcessing, Message: "payload carries no QR content to render", Event: w.Event, Instance: w.Instance}
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
