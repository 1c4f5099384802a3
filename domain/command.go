package domain

type Command interface {
	RoomID() RoomID
}

type PostMessageCommand struct {
	Room    RoomID
	Sender  Identity
	Content string
}

func (p PostMessageCommand) RoomID() RoomID {
	return p.Room
}

type GetMessagesCommand struct {
	Room   RoomID
	UserID UserID
	Before int64
	Limit  int
}

func (p GetMessagesCommand) RoomID() RoomID {
	return p.Room
}
