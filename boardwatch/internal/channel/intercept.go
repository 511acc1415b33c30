package channel

import "context"

// Hooks observe the traffic of intercepted channels. Any hook may be nil.
type Hooks struct {
	OnOpen    func(url string, ch Channel)
	OnSend    func(frame []byte)
	OnReceive func(frame []byte)
	OnClose   func(url string)
}

// Intercept wraps open so that every channel it creates reports its traffic
// to hooks. The returned channels keep the same State/Send/Close contract.
func Intercept(open Opener, hooks Hooks) Opener {
	return func(ctx context.Context, url string, onReceive func([]byte)) (Channel, error) {
		recv := onReceive
		if hooks.OnReceive != nil {
			recv = func(frame []byte) {
				hooks.OnReceive(frame)
				if onReceive != nil {
					onReceive(frame)
				}
			}
		}

		ch, err := open(ctx, url, recv)
		if err != nil {
			return nil, err
		}
		ic := &intercepted{Channel: ch, url: url, hooks: hooks}
		if hooks.OnOpen != nil {
			hooks.OnOpen(url, ic)
		}
		return ic, nil
	}
}

type intercepted struct {
	Channel
	url   string
	hooks Hooks
}

func (c *intercepted) Send(ctx context.Context, frame []byte) error {
	if err := c.Channel.Send(ctx, frame); err != nil {
		return err
	}
	if c.hooks.OnSend != nil {
		c.hooks.OnSend(frame)
	}
	return nil
}

func (c *intercepted) Close() error {
	err := c.Channel.Close()
	if c.hooks.OnClose != nil {
		c.hooks.OnClose(c.url)
	}
	return err
}
