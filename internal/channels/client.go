package channels

import (
	"errors"
	"time"
)

// Client is one connected operator client. The channel binding never
// changes and the authenticated user, once set, is immutable.
type Client struct {
	id          string
	channelType string
	channel     Channel
	connectedAt time.Time

	user string
}

// NewClient binds a fresh client to a channel.
func NewClient(id, channelType string, channel Channel) *Client {
	return &Client{
		id:          id,
		channelType: channelType,
		channel:     channel,
		connectedAt: time.Now(),
	}
}

// ID returns the unique client id.
func (c *Client) ID() string { return c.id }

// ChannelType returns the id of the channel type the client connected over.
func (c *Client) ChannelType() string { return c.channelType }

// Channel returns the communication channel bound to the client.
func (c *Client) Channel() Channel { return c.channel }

// ConnectedAt returns the time the client connected.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// User returns the authenticated user, or "" before authentication.
func (c *Client) User() string { return c.user }

// SetUser records the authenticated user. Re-authentication is refused.
func (c *Client) SetUser(user string) error {
	if c.user != "" {
		return errors.New("client is already authenticated")
	}
	c.user = user
	return nil
}
