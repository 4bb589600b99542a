package alerts

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

func publicKeyFromBase58(s string) (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(s)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireAlert is the JSON wire shape of a TokenAlert, matching §6's schema
// with mint/pool addresses as base58 strings rather than raw bytes.
type wireAlert struct {
	Token struct {
		MintAddress string `json:"mint_address"`
		Symbol      string `json:"symbol"`
	} `json:"token"`
	EventType string `json:"event_type"`
	Migration *struct {
		PoolAddress string `json:"pool_address"`
	} `json:"migration,omitempty"`
	Confidence string `json:"confidence,omitempty"`
}

// WSListener accepts websocket connections from alert producers and
// decodes each inbound text frame as a TokenAlert, forwarding it to out.
// Shaped after the teacher's WSHub, but inbound only: it does not limit the
// number of connections, and every connection feeds the same channel.
type WSListener struct {
	out chan TokenAlert
	log *logging.Logger
}

// NewWSListener builds a listener whose decoded alerts are available on
// Alerts(). bufferSize bounds how many pending alerts may queue before the
// connection's read loop blocks.
func NewWSListener(bufferSize int) *WSListener {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &WSListener{
		out: make(chan TokenAlert, bufferSize),
		log: logging.GetDefault().Component("alerts-ws"),
	}
}

// Alerts returns the channel Ingestor.Run should drain.
func (l *WSListener) Alerts() <-chan TokenAlert {
	return l.out
}

// ServeHTTP upgrades the connection and reads TokenAlert frames until the
// producer disconnects.
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(8192)
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.log.Debug("alert producer disconnected", "error", err)
			return
		}

		alert, err := decodeWireAlert(data)
		if err != nil {
			l.log.Warn("dropping malformed alert frame", "error", err)
			continue
		}

		l.out <- alert
	}
}

func decodeWireAlert(data []byte) (TokenAlert, error) {
	var w wireAlert
	if err := json.Unmarshal(data, &w); err != nil {
		return TokenAlert{}, err
	}

	mint, err := publicKeyFromBase58(w.Token.MintAddress)
	if err != nil {
		return TokenAlert{}, err
	}

	alert := TokenAlert{
		Token: Token{
			MintAddress: mint,
			Symbol:      w.Token.Symbol,
		},
		EventType:  EventType(w.EventType),
		Confidence: Confidence(w.Confidence),
	}

	if w.Migration != nil {
		pool, err := publicKeyFromBase58(w.Migration.PoolAddress)
		if err != nil {
			return TokenAlert{}, err
		}
		alert.Migration = &Migration{PoolAddress: pool}
	}

	return alert, nil
}
