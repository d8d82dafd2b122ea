package email

// Address is a single mailbox with an optional display name.
type Address struct {
	Address string
	Name    string
}

// AddressList is an ordered mapping from email address to display name.
// Each address appears at most once.
type AddressList []Address

// Add inserts the address, or replaces the display name if it is already
// present, keeping its original position.
func (l *AddressList) Add(address, name string) {
	for i := range *l {
		if (*l)[i].Address == address {
			(*l)[i].Name = name
			return
		}
	}
	*l = append(*l, Address{Address: address, Name: name})
}

// Len returns the number of addresses in the list.
func (l AddressList) Len() int {
	return len(l)
}

// Addresses returns the bare addresses in order.
func (l AddressList) Addresses() []string {
	out := make([]string, 0, len(l))
	for _, a := range l {
		out = append(out, a.Address)
	}
	return out
}
