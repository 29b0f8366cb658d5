package mailer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"os"
	"path"
	"thruster/src/config"
	"thruster/src/lib"
	awslib "thruster/src/lib/aws"
	"thruster/src/models"

	"github.com/yeqown/go-qrcode"
)

var ErrNoRecipient = errors.New("booking has no lead guest")

type Mailer interface {
	SendBookingConfirmation(ctx context.Context, booking *models.Booking) error
}

// New picks the transport named by MAIL_BACKEND.
func New(cfg *config.App) Mailer {
	if cfg.MailBackend == "ses" {
		if client := awslib.GetSESClient(); client != nil {
			return &SESMailer{From: cfg.MailFrom, Client: client}
		}
		log.Println("[Mailer] SES unavailable, falling back to SMTP")
	}
	return &SMTPMailer{From: cfg.MailFrom, FromName: cfg.MailFromName, Send: lib.SendMail}
}

func confirmationSubject(b *models.Booking) string {
	return fmt.Sprintf("Your stay at %s is confirmed", b.HotelName)
}

func confirmationBody(b *models.Booking) string {
	guest := b.LeadGuest()
	ref := ""
	if b.ExternalBookingID != nil {
		ref = *b.ExternalBookingID
	}
	return fmt.Sprintf(`<p>Hi %s,</p>
<p>Your booking at <strong>%s</strong> is confirmed.</p>
<p>Check-in: %s<br/>Check-out: %s<br/>Guests: %d</p>
<p>Confirmation number: <strong>%s</strong></p>
<p>Total paid: %.2f %s</p>`,
		html.EscapeString(guest.Name),
		html.EscapeString(b.HotelName),
		b.CheckInDate, b.CheckOutDate, b.Adults,
		html.EscapeString(ref),
		b.TotalPrice, b.Currency,
	)
}

type SMTPMailer struct {
	From     string
	FromName string
	Send     func(*lib.SendMailInput) error
}

// SendBookingConfirmation mails the lead guest with a QR voucher of the provider reference attached.
func (m *SMTPMailer) SendBookingConfirmation(ctx context.Context, b *models.Booking) error {
	guest := b.LeadGuest()
	if guest == nil {
		return ErrNoRecipient
	}
	input := &lib.SendMailInput{
		From:     m.From,
		FromName: m.FromName,
		To:       []string{guest.Email},
		Subject:  confirmationSubject(b),
		Body:     confirmationBody(b),
		Html:     true,
	}
	if b.ExternalBookingID != nil {
		voucher, err := writeVoucher(b.ID, *b.ExternalBookingID)
		if err != nil {
			log.Printf("[Mailer] Could not create voucher for booking %s: %s\n", b.ID, err.Error())
		} else {
			defer os.Remove(voucher)
			input.Attachments = []string{voucher}
		}
	}
	if err := m.Send(input); err != nil {
		return fmt.Errorf("send confirmation for booking %s: %w", b.ID, err)
	}
	return nil
}

func writeVoucher(bookingID, ref string) (string, error) {
	qrc, err := qrcode.New(ref)
	if err != nil {
		return "", err
	}
	filepath := path.Join(os.TempDir(), fmt.Sprintf("voucher-%s.jpeg", bookingID))
	if err := qrc.Save(filepath); err != nil {
		return "", err
	}
	return filepath, nil
}

type SESMailer struct {
	From   string
	Client awslib.SESAPI
}

func (m *SESMailer) SendBookingConfirmation(ctx context.Context, b *models.Booking) error {
	guest := b.LeadGuest()
	if guest == nil {
		return ErrNoRecipient
	}
	return awslib.SESSendMessage(ctx, m.Client, m.From, []string{guest.Email}, confirmationSubject(b), confirmationBody(b))
}
