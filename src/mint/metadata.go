package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	awslib "thruster/src/lib/aws"
	"thruster/src/models"

	"github.com/gosimple/slug"
)

// MetadataPublisher makes an order's NFT metadata reachable and returns its URL.
type MetadataPublisher interface {
	Publish(ctx context.Context, order *models.Order) (string, error)
}

type S3MetadataPublisher struct {
	Client     awslib.ObjectPutter
	Bucket     string
	BaseURL    string
	Collection string
	ImageURL   string
}

type nftAttribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

type nftMetadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Image       string         `json:"image"`
	Attributes  []nftAttribute `json:"attributes"`
}

func (p *S3MetadataPublisher) key(orderID string) string {
	return fmt.Sprintf("nft/%s/%s.json", slug.Make(p.Collection), orderID)
}

// Publish writes under a key derived from the order id, so repeated calls overwrite one object.
func (p *S3MetadataPublisher) Publish(ctx context.Context, order *models.Order) (string, error) {
	meta := nftMetadata{
		Name:        fmt.Sprintf("%s #%s", p.Collection, strings.Split(order.ID, "-")[0]),
		Description: fmt.Sprintf("Purchase receipt for order %s", order.ID),
		Image:       p.ImageURL,
		Attributes: []nftAttribute{
			{TraitType: "order_id", Value: order.ID},
			{TraitType: "total", Value: order.TotalPrice},
			{TraitType: "currency", Value: order.Currency},
			{TraitType: "items", Value: len(order.Items)},
		},
	}
	if order.PaidAt != nil {
		meta.Attributes = append(meta.Attributes, nftAttribute{TraitType: "paid_at", Value: order.PaidAt.UTC().Format("2006-01-02")})
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	key := p.key(order.ID)
	if err := awslib.S3PutJSON(ctx, p.Client, p.Bucket, key, body); err != nil {
		return "", fmt.Errorf("publish metadata for order %s: %w", order.ID, err)
	}
	return strings.TrimRight(p.BaseURL, "/") + "/" + key, nil
}

// ValidMetadataURL accepts absolute http(s) and ipfs URLs.
func ValidMetadataURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "https", "http", "ipfs":
		return u.Host != ""
	}
	return false
}
