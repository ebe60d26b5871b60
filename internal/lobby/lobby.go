package lobby

import (
	"context"

	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

type Msg interface{ isLobbyMsg() }

// Register attaches a connection's outbox under its user id. A newer
// registration for the same id replaces (and closes) the old outbox.
type Register struct {
	ClientID string
	Outbox   chan types.Outbound
}

// Unregister is ignored unless Outbox is the one currently registered.
type Unregister struct {
	ClientID string
	Outbox   chan types.Outbound
}

type AddMember struct {
	ClientID string
	Group    string
}

type LeaveGroup struct {
	ClientID string
	Group    string
}

// RemoveMember drops a client from every group it belongs to.
type RemoveMember struct{ ClientID string }

type Broadcast struct {
	Group string
	Msg   types.Outbound
}

type Send struct {
	ClientID string
	Msg      types.Outbound
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (Register) isLobbyMsg()     {}
func (Unregister) isLobbyMsg()   {}
func (AddMember) isLobbyMsg()    {}
func (LeaveGroup) isLobbyMsg()   {}
func (RemoveMember) isLobbyMsg() {}
func (Broadcast) isLobbyMsg()    {}
func (Send) isLobbyMsg()         {}
func (GetState) isLobbyMsg()     {}
func (Shutdown) isLobbyMsg()     {}

type View struct {
	NumClients int
	Groups     map[string][]string
}

type Lobby struct {
	inbox    chan Msg
	clients  map[string]chan types.Outbound
	groups   map[string]map[string]struct{} // group -> client ids
	memberOf map[string]map[string]struct{} // client id -> groups
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewLobby(parent context.Context) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		inbox:    make(chan Msg, 256),
		clients:  make(map[string]chan types.Outbound),
		groups:   make(map[string]map[string]struct{}),
		memberOf: make(map[string]map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Register:
				if old, ok := l.clients[msg.ClientID]; ok && old != msg.Outbox {
					close(old)
				}
				l.clients[msg.ClientID] = msg.Outbox

			case Unregister:
				if l.clients[msg.ClientID] == msg.Outbox {
					close(msg.Outbox)
					delete(l.clients, msg.ClientID)
					l.removeMember(msg.ClientID)
				}

			case AddMember:
				if l.groups[msg.Group] == nil {
					l.groups[msg.Group] = make(map[string]struct{})
				}
				if l.memberOf[msg.ClientID] == nil {
					l.memberOf[msg.ClientID] = make(map[string]struct{})
				}
				l.groups[msg.Group][msg.ClientID] = struct{}{}
				l.memberOf[msg.ClientID][msg.Group] = struct{}{}

			case LeaveGroup:
				l.leave(msg.ClientID, msg.Group)

			case RemoveMember:
				l.removeMember(msg.ClientID)

			case Broadcast:
				for id := range l.groups[msg.Group] {
					l.deliver(id, msg.Msg)
				}

			case Send:
				l.deliver(msg.ClientID, msg.Msg)

			case GetState:
				// reflect internal state without data races
				groups := make(map[string][]string, len(l.groups))
				for g, members := range l.groups {
					for id := range members {
						groups[g] = append(groups[g], id)
					}
				}
				msg.Reply <- View{NumClients: len(l.clients), Groups: groups}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) deliver(id string, out types.Outbound) {
	ch, ok := l.clients[id]
	if !ok {
		return
	}
	select {
	case ch <- out:
		//ok
	default:
		// Client is slow/full - drop them.
		close(ch)
		delete(l.clients, id)
		l.removeMember(id)
	}
}

func (l *Lobby) leave(id, group string) {
	if members := l.groups[group]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(l.groups, group)
		}
	}
	if groups := l.memberOf[id]; groups != nil {
		delete(groups, group)
		if len(groups) == 0 {
			delete(l.memberOf, id)
		}
	}
}

func (l *Lobby) removeMember(id string) {
	for group := range l.memberOf[id] {
		l.leave(id, group)
	}
	delete(l.memberOf, id)
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		close(ch) // Tell client no more messages
		delete(l.clients, id)
	}
	clear(l.groups)
	clear(l.memberOf)
	l.cancel()
}

func (l *Lobby) post(m Msg) {
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
	}
}

func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) Register(clientID string, out chan types.Outbound) {
	l.post(Register{ClientID: clientID, Outbox: out})
}

func (l *Lobby) Unregister(clientID string, out chan types.Outbound) {
	l.post(Unregister{ClientID: clientID, Outbox: out})
}

func (l *Lobby) AddMember(clientID, group string) {
	l.post(AddMember{ClientID: clientID, Group: group})
}

func (l *Lobby) LeaveGroup(clientID, group string) {
	l.post(LeaveGroup{ClientID: clientID, Group: group})
}

func (l *Lobby) RemoveMember(clientID string) {
	l.post(RemoveMember{ClientID: clientID})
}

func (l *Lobby) Broadcast(group string, msg types.Outbound) {
	l.post(Broadcast{Group: group, Msg: msg})
}

func (l *Lobby) Send(clientID string, msg types.Outbound) {
	l.post(Send{ClientID: clientID, Msg: msg})
}

// View returns a snapshot of connected clients and group membership.
func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case l.inbox <- GetState{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-l.ctx.Done():
		return View{}, l.ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
