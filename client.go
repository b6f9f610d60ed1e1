package bankd

// Client is an owner of zero or more accounts. The ID is assigned by the
// registry on creation; a zero ID marks an unsaved client.
type Client struct {
	ID        int
	Firstname string
	Lastname  string
}
