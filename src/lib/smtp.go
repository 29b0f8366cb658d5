package lib

import (
	"log"
	"thruster/src/config"

	"github.com/wneessen/go-mail"
)

func GetSMTPClient() (*mail.Client, error) {
	cfg := config.Get()
	c, err := mail.NewClient(
		cfg.SMTPHost,
		mail.WithPort(cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.SMTPUsername),
		mail.WithPassword(cfg.SMTPPassword),
	)
	if err != nil {
		log.Printf("Could not initialize smtp client: %s\n", err.Error())
		return nil, err
	}
	return c, nil
}

type SendMailInput struct {
	From        string
	FromName    string
	To          []string
	ReplyTo     string
	Subject     string
	Body        string
	Html        bool
	Attachments []string
}

func BuildMessage(inputParams *SendMailInput) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(inputParams.FromName, inputParams.From); err != nil {
		return nil, err
	}
	if err := msg.To(inputParams.To...); err != nil {
		return nil, err
	}
	if inputParams.ReplyTo != "" {
		if err := msg.ReplyTo(inputParams.ReplyTo); err != nil {
			log.Printf("Failed to set ReplyTo address: %s\n", err.Error())
		}
	}
	msg.Subject(inputParams.Subject)
	if inputParams.Html {
		msg.SetBodyString(mail.TypeTextHTML, inputParams.Body)
	} else {
		msg.SetBodyString(mail.TypeTextPlain, inputParams.Body)
	}
	for _, f := range inputParams.Attachments {
		msg.AttachFile(f)
	}
	return msg, nil
}

func SendMail(inputParams *SendMailInput) error {
	msg, err := BuildMessage(inputParams)
	if err != nil {
		return err
	}
	c, err := GetSMTPClient()
	if err != nil {
		return err
	}
	return c.DialAndSend(msg)
}
