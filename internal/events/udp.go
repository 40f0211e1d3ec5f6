package events

import (
	"errors"
	"net"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"animehub/pkg/logger"
)

const (
	SubscribeMessageType   = "subscribe"
	UnsubscribeMessageType = "unsubscribe"
)

// SubscribeMessage is the datagram a UDP listener sends to start (or stop)
// receiving events at its source address.
type SubscribeMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type subscriber struct {
	Name string
	Addr *net.UDPAddr
}

// Notifier delivers events as single UDP datagrams to every registered
// subscriber. Delivery is best effort.
type Notifier struct {
	Addr string

	mu   sync.RWMutex
	subs map[string]subscriber
	conn *net.UDPConn
}

func NewNotifier(addr string) *Notifier {
	return &Notifier{Addr: addr, subs: make(map[string]subscriber)}
}

// Listen binds the UDP socket and returns the bound address.
func (n *Notifier) Listen() (net.Addr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", n.Addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()
	logger.Get().Info("UDP notifier listening", zap.String("addr", conn.LocalAddr().String()))
	return conn.LocalAddr(), nil
}

// Serve reads subscribe/unsubscribe datagrams until Close.
func (n *Notifier) Serve() error {
	n.mu.RLock()
	conn := n.conn
	n.mu.RUnlock()
	if conn == nil {
		return errors.New("notifier: Serve called before Listen")
	}
	log := logger.Get()

	buf := make([]byte, 2048)
	for {
		size, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		msg, err := parseSubscribe(buf[:size])
		if err != nil {
			log.Debug("invalid UDP message", zap.Stringer("from", addr), zap.Error(err))
			continue
		}
		switch msg.Type {
		case SubscribeMessageType:
			n.mu.Lock()
			n.subs[addr.String()] = subscriber{Name: msg.Name, Addr: addr}
			n.mu.Unlock()
			log.Info("UDP subscriber registered", zap.String("name", msg.Name), zap.Stringer("addr", addr))
		case UnsubscribeMessageType:
			n.mu.Lock()
			delete(n.subs, addr.String())
			n.mu.Unlock()
		}
	}
}

// BroadcastJSON sends v to every subscriber. A subscriber whose address
// fails twice is forgotten.
func (n *Notifier) BroadcastJSON(v any) {
	n.mu.RLock()
	conn := n.conn
	subs := make([]subscriber, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.RUnlock()
	if conn == nil || len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		logger.Get().Warn("event not encodable", zap.Error(err))
		return
	}
	for _, s := range subs {
		if _, err := conn.WriteToUDP(payload, s.Addr); err == nil {
			continue
		}
		if _, err := conn.WriteToUDP(payload, s.Addr); err != nil {
			logger.Get().Warn("dropping UDP subscriber", zap.String("name", s.Name), zap.Stringer("addr", s.Addr), zap.Error(err))
			n.mu.Lock()
			delete(n.subs, s.Addr.String())
			n.mu.Unlock()
		}
	}
}

// Subscribers returns the number of registered addresses.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

func parseSubscribe(data []byte) (SubscribeMessage, error) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.Type == "" {
		return msg, errors.New("missing type")
	}
	return msg, nil
}
