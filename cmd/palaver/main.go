// Command palaver is a terminal chat client. It keeps its local view
// consistent by merging HTTP snapshot fetches with pushed events, the same
// reconciliation any UI on top of this backend has to do.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"palaver/internal/auth"
	"palaver/internal/models"
	"palaver/internal/state"
	"palaver/internal/store"
	"palaver/internal/wire"
	"palaver/internal/wsclient"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	token := flag.String("token", "", "identity token (mints a dev token when empty)")
	userID := flag.Int64("user", 0, "user id for dev token minting")
	username := flag.String("name", "", "username for dev token minting")
	secret := flag.String("secret", "dev-secret-change-me", "signing secret for dev token minting")
	flag.Parse()

	if *token == "" {
		if *userID == 0 || *username == "" {
			log.Fatal("either -token or both -user and -name are required")
		}
		minted, err := auth.Sign([]byte(*secret), models.Identity{UserID: *userID, Username: *username}, 24*time.Hour)
		if err != nil {
			log.Fatal("Failed to mint token: ", err)
		}
		*token = minted
	}

	api := newAPIClient(*serverURL, *token)
	ws := wsclient.New(wsURL(*serverURL), *token)

	var view *state.Chat
	join := func(ch models.Channel) {
		view.SetChannel(ch.ID)
		ws.Send(wire.ChannelJoin{ChannelID: ch.ID})
		msgs, err := api.messages(ch.ID)
		if err != nil {
			fmt.Println("! fetch messages:", err)
			return
		}
		view.SetMessages(msgs)
		for _, msg := range msgs {
			printMessage(msg)
		}
	}
	view = state.New(state.OnRedirect(func(ch models.Channel) {
		ws.Send(wire.ChannelJoin{ChannelID: ch.ID})
		msgs, err := api.messages(ch.ID)
		if err == nil {
			view.SetMessages(msgs)
		}
	}))

	ws.OnMessage(func(ev wire.ServerEvent) {
		printEvent(view, ev)
		view.Apply(ev)
	})
	ws.Connect()
	defer ws.Disconnect()

	channels, err := api.channels()
	if err != nil {
		log.Fatal("Failed to fetch channels: ", err)
	}
	view.SetChannels(channels)

	if general, ok := view.ChannelByName(store.GeneralChannel); ok {
		join(general)
	}

	fmt.Println("commands: /channels /join <name> /create <name> /delete <name> /who /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			sendMessage(api, ws, view, line)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "/quit":
			return

		case "/channels":
			counts := view.Counts()
			for _, ch := range view.Channels() {
				fmt.Printf("  #%s (%d online)\n", ch.Name, counts[ch.ID])
			}

		case "/join":
			ch, ok := view.ChannelByName(arg)
			if !ok {
				fmt.Println("! no such channel:", arg)
				continue
			}
			join(ch)

		case "/create":
			ch, err := api.createChannel(arg)
			if err != nil {
				fmt.Println("!", err)
				continue
			}
			view.AddChannel(ch)
			join(ch)

		case "/delete":
			ch, ok := view.ChannelByName(arg)
			if !ok {
				fmt.Println("! no such channel:", arg)
				continue
			}
			if err := api.deleteChannel(ch.ID); err != nil {
				fmt.Println("!", err)
			}

		case "/who":
			for _, user := range view.OnlineUsers() {
				fmt.Println("  ", user.Username)
			}

		default:
			fmt.Println("! unknown command:", cmd)
		}
	}
}

// sendMessage follows the two-path write: persist over HTTP first, then
// announce the id over the live connection so the server re-reads and
// broadcasts the authoritative row.
func sendMessage(api *apiClient, ws *wsclient.Client, view *state.Chat, content string) {
	channelID, ok := view.ActiveChannel()
	if !ok {
		fmt.Println("! join a channel first")
		return
	}

	msg, err := api.postMessage(channelID, content)
	if err != nil {
		fmt.Println("!", err)
		return
	}

	ws.Send(wire.MessageAnnounce{ChannelID: channelID, MessageID: msg.ID})
	ws.Send(wire.TypingStop{})
}

func printEvent(view *state.Chat, ev wire.ServerEvent) {
	switch ev := ev.(type) {
	case wire.MessageNew:
		if channelID, ok := view.ActiveChannel(); ok && channelID == ev.ChannelID {
			printMessage(ev.Message)
		}
	case wire.UserJoined:
		fmt.Printf("-- %s has joined the chat\n", ev.Username)
	case wire.UserLeft:
		fmt.Printf("-- %s has left the channel\n", ev.Username)
	case wire.TypingStarted:
		fmt.Printf("-- %s is typing...\n", ev.Username)
	case wire.ChannelCreated:
		fmt.Printf("-- new channel #%s\n", ev.Channel.Name)
	case wire.ChannelDeleted:
		if channelID, ok := view.ActiveChannel(); ok && channelID == ev.ChannelID {
			fmt.Println("-- this channel was removed, moving you to #general")
		}
	}
}

func printMessage(msg models.Message) {
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04"), msg.Username, msg.Content)
}

func wsURL(base string) string {
	url := strings.TrimRight(base, "/")
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws"
}
