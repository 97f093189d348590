package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type tokenResponse struct {
	Identity    string `json:"identity"`
	AccessToken string `json:"accessToken"`
	Error       string `json:"error"`
}

type roomNameResponse struct {
	RoomName string `json:"roomName"`
}

type urlResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("token_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "http://localhost:8080", "server base URL")
	room := flag.String("room", "", "room name (generated by the server when empty)")
	identity := flag.String("identity", "tester", "participant identity")
	name := flag.String("name", "Tester", "participant display name")
	region := flag.String("region", "", "region passed to /api/url")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &http.Client{}

	if *room == "" {
		var rn roomNameResponse
		if _, err := getJSON(ctx, client, *base+"/api/room-name", &rn); err != nil {
			return fmt.Errorf("room name: %w", err)
		}
		*room = rn.RoomName
		log.Printf("generated room %s", *room)
	}

	var u urlResponse
	urlQuery := url.Values{}
	if *region != "" {
		urlQuery.Set("region", *region)
	}
	status, err := getJSON(ctx, client, *base+"/api/url?"+urlQuery.Encode(), &u)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("url: status %d: %s", status, u.Error)
	}
	log.Printf("server url %s", u.URL)

	query := url.Values{}
	query.Set("roomName", *room)
	query.Set("identity", *identity)
	query.Set("name", *name)

	var tok tokenResponse
	status, err = getJSON(ctx, client, *base+"/api/token?"+query.Encode(), &tok)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("token: status %d: %s", status, tok.Error)
	}

	// The signing secret stays on the server; only the payload is inspected.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("token has no expiry")
	}

	pretty, _ := json.MarshalIndent(claims["video"], "", "  ")
	log.Printf("token for %s expires %s", tok.Identity, exp.Time.Format(time.RFC3339))
	log.Printf("grant %s", pretty)
	return nil
}

func getJSON(ctx context.Context, client *http.Client, target string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
