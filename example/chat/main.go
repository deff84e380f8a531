package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
	"github.com/kessig/switchboard/wsbridge"
)

var jwtSecret []byte

type chatClaims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// authenticate extracts the user ID from an Authorization: Bearer token
// signed with HS256. Credential checks live outside the dispatcher, in
// caller-supplied middleware like this one.
func authenticate(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || len(jwtSecret) == 0 {
		return "", errors.New("missing bearer token")
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	claims := &chatClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return "", errors.New("invalid token")
	}
	return claims.UserID, nil
}

// room fans messages out to every connected socket.
type room struct {
	mu      sync.Mutex
	sockets map[string]*dispatch.Socket
}

func (rm *room) join(s *dispatch.Socket) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.sockets[s.ID()] = s
}

func (rm *room) leave(s *dispatch.Socket) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.sockets, s.ID())
}

func (rm *room) broadcast(msgType string, payload any) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, s := range rm.sockets {
		_ = s.Send(msgType, payload)
	}
}

var chatMessage = contract.SchemaFunc(func(input any) (any, []contract.Issue) {
	body, ok := input.(map[string]any)
	if !ok {
		return nil, contract.Invalid("", "invalid_type", "expected a JSON object")
	}
	text, _ := body["text"].(string)
	if text == "" {
		return nil, contract.Invalid("text", "required", "text is required")
	}
	return body, nil
})

func main() {
	_ = godotenv.Load()
	jwtSecret = []byte(os.Getenv("CHAT_JWT_SECRET"))

	c := contract.MustNew(
		contract.Endpoint{
			Name: "chat",
			Kind: contract.KindMessage,
			Path: "/chat/:roomID",
			ClientMessages: map[string]contract.Schema{
				"say": chatMessage,
			},
			ServerMessages: map[string]contract.Schema{
				"said": nil,
			},
		},
	)

	d := dispatch.New(c, dispatch.WithMessageUpgrader(
		wsbridge.New(wsbridge.WithCheckOrigin(func(r *http.Request) bool { return true })),
	))

	rm := &room{sockets: make(map[string]*dispatch.Socket)}

	must(d.HandleSession("chat", &dispatch.SessionHandlers{
		Open: func(ctx context.Context, s *dispatch.Socket) {
			rm.join(s)
		},
		Message: func(ctx context.Context, s *dispatch.Socket, msgType string, payload any) {
			body := payload.(map[string]any)
			from := s.Headers.(http.Header).Get("X-User-ID")
			rm.broadcast("said", map[string]any{
				"from": from,
				"text": body["text"],
			})
		},
		Close: func(ctx context.Context, s *dispatch.Socket) {
			rm.leave(s)
		},
	}))

	// Authentication wraps the dispatcher; the engine itself never checks
	// credentials.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		r.Header.Set("X-User-ID", userID)
		d.ServeHTTP(w, r)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Listening on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal(err)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
