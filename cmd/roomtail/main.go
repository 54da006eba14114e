// Command roomtail follows one chat room from the terminal. Lines read from
// stdin are sent to the room; "/quit" exits, "/leave" unsubscribes and
// "/retry" reconnects after an error.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/symposium/internal/roomsync"
	"github.com/npezzotti/symposium/internal/types"
)

const requestTimeout = 10 * time.Second

var (
	baseURL  string
	email    string
	password string
	roomId   string
	model    string
)

// login returns the signed-in user and the session cookie.
func login(ctx context.Context, base *url.URL) (types.User, *http.Cookie, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return types.User{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath("/api/auth/login").String(), bytes.NewReader(body))
	if err != nil {
		return types.User{}, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return types.User{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.User{}, nil, fmt.Errorf("login: %s", resp.Status)
	}

	var user types.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return types.User{}, nil, fmt.Errorf("decode user: %w", err)
	}

	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			return user, c, nil
		}
	}

	return types.User{}, nil, fmt.Errorf("login: no session cookie")
}

func wsURL(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.JoinPath("/ws").String()
}

func printEvent(r *roomsync.Room, ev roomsync.Event) {
	switch e := ev.(type) {
	case roomsync.BaselineEvent:
		fmt.Printf("== %s (%d messages, %d participants)\n", e.Room.Name, len(e.Messages), len(e.Room.Participants))
		for _, m := range e.Messages {
			printMessage(m)
		}
	case roomsync.InsertEvent:
		printMessage(e.Message)
	case roomsync.ParticipantEvent:
		verb := "joined"
		if !e.Participant.IsActive {
			verb = "left"
		}
		fmt.Printf("-- %s %s\n", types.DisplayName(e.Participant.User.Username, e.Participant.User.EmailAddress), verb)
	case roomsync.TypingEvent:
		if names := r.TypingNames(); len(names) > 0 {
			fmt.Printf("-- typing: %s\n", strings.Join(names, ", "))
		}
	case roomsync.FailureEvent:
		fmt.Printf("!! %d: %s\n", e.Code, e.Message)
	case roomsync.StateEvent:
		if e.Err != nil {
			fmt.Printf("-- %s: %v\n", e.State, e.Err)
		} else {
			fmt.Printf("-- %s\n", e.State)
		}
	}
}

func printMessage(m types.Message) {
	name := m.UserName
	if m.Role == types.RoleAssistant {
		name = "assistant"
	}
	if name == "" {
		name = "Anonymous"
	}
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format(time.Kitchen), name, m.Content)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Println("load .env:", err)
	}

	flag.StringVar(&baseURL, "url", "http://localhost:8000", "symposium server URL")
	flag.StringVar(&email, "email", os.Getenv("SYMPOSIUM_EMAIL"), "account email")
	flag.StringVar(&password, "password", os.Getenv("SYMPOSIUM_PASSWORD"), "account password")
	flag.StringVar(&roomId, "room", "", "external id of the room to follow")
	flag.StringVar(&model, "model", "", "assistant model override for sent messages")
	flag.Parse()

	logger := log.New(os.Stderr, "[roomtail] ", log.LstdFlags)

	if roomId == "" || email == "" {
		flag.Usage()
		os.Exit(2)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		logger.Fatal("parse url:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	user, cookie, err := login(ctx, base)
	cancel()
	if err != nil {
		logger.Fatal(err)
	}

	dialer := &roomsync.WebsocketDialer{
		URL:    wsURL(base),
		Header: http.Header{"Cookie": []string{cookie.String()}, "Origin": []string{base.String()}},
	}

	var room *roomsync.Room
	room = roomsync.NewRoom(roomId, user, dialer, logger, func(ev roomsync.Event) {
		printEvent(room, ev)
	})
	defer room.Close()

	ctx, cancel = context.WithTimeout(context.Background(), requestTimeout)
	err = room.Enter(ctx)
	cancel()
	if err != nil {
		logger.Fatal("enter room:", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/leave":
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			err := room.Unsubscribe(ctx)
			cancel()
			if err != nil {
				logger.Println("leave:", err)
				continue
			}
			return
		case "/retry":
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			err := room.Retry(ctx)
			cancel()
			if err != nil {
				logger.Println("retry:", err)
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		_, err := room.Send(ctx, line, model)
		cancel()
		if err != nil {
			logger.Println("send:", err)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Println("read stdin:", err)
	}
}
