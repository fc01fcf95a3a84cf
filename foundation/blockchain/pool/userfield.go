package pool

import "sort"

// UserFieldID keys a user field on a transaction or pool.
type UserFieldID int32

// Well-known user field ids. The smart-contract tracker and the validators
// key off these.
const (
	// UFTimestamp carries the round timestamp on a pool (and on dumb
	// transactions submitted through the API).
	UFTimestamp UserFieldID = 0

	// UFContract carries the serialized contract invocation on a smart
	// transaction. An empty method distinguishes a deploy from an invoke.
	UFContract UserFieldID = 1

	// UFNewState carries the serialized contract state on a smart-state
	// transaction produced by the executor.
	UFNewState UserFieldID = 2

	// UFNewStateRef carries the serialized contract.Ref pointing back at the
	// initiating smart transaction.
	UFNewStateRef UserFieldID = 3

	// UFNewStateRetVal carries the serialized return value of the executed
	// method, when the method returned one.
	UFNewStateRetVal UserFieldID = 4
)

// Typed variant tags. The tag is serialized before the payload.
const (
	userFieldInteger uint8 = 1
	userFieldString  uint8 = 2
	userFieldAmount  uint8 = 3
)

// UserField is a tagged variant carried on transactions and pools: an
// integer, a string, or an amount.
type UserField struct {
	tag     uint8
	integer int64
	str     string
	amount  Amount
}

// IntegerField constructs an integer user field.
func IntegerField(v int64) UserField {
	return UserField{tag: userFieldInteger, integer: v}
}

// StringField constructs a string user field.
func StringField(v string) UserField {
	return UserField{tag: userFieldString, str: v}
}

// AmountField constructs an amount user field.
func AmountField(v Amount) UserField {
	return UserField{tag: userFieldAmount, amount: v}
}

// IsValid reports whether the field carries a value.
func (f UserField) IsValid() bool {
	return f.tag != 0
}

// IsString reports whether the field carries a string.
func (f UserField) IsString() bool {
	return f.tag == userFieldString
}

// Integer returns the integer payload (zero for other tags).
func (f UserField) Integer() int64 {
	return f.integer
}

// String returns the string payload (empty for other tags).
func (f UserField) String() string {
	if f.tag != userFieldString {
		return ""
	}
	return f.str
}

// Amount returns the amount payload (zero for other tags).
func (f UserField) Amount() Amount {
	return f.amount
}

func (f UserField) put(e *Encoder) {
	e.PutUint8(f.tag)
	switch f.tag {
	case userFieldInteger:
		e.PutInt64(f.integer)
	case userFieldString:
		e.PutString(f.str)
	case userFieldAmount:
		f.amount.put(e)
	}
}

func getUserField(d *Decoder) UserField {
	var f UserField
	f.tag = d.GetUint8()
	switch f.tag {
	case userFieldInteger:
		f.integer = d.GetInt64()
	case userFieldString:
		f.str = d.GetString()
	case userFieldAmount:
		f.amount = getAmount(d)
	default:
		d.fail()
	}
	return f
}

// UserFields maps field ids to their values. Serialization walks the ids in
// ascending order so the byte stream is canonical.
type UserFields map[UserFieldID]UserField

func (uf UserFields) put(e *Encoder) {
	ids := make([]UserFieldID, 0, len(uf))
	for id := range uf {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	e.PutSize(len(ids))
	for _, id := range ids {
		e.PutInt32(int32(id))
		uf[id].put(e)
	}
}

func getUserFields(d *Decoder) UserFields {
	cnt := d.GetSize()
	if d.Err() != nil {
		return nil
	}
	uf := make(UserFields, cnt)
	for i := 0; i < cnt; i++ {
		id := UserFieldID(d.GetInt32())
		uf[id] = getUserField(d)
		if d.Err() != nil {
			return nil
		}
	}
	return uf
}

// Clone makes an independent copy of the field map.
func (uf UserFields) Clone() UserFields {
	out := make(UserFields, len(uf))
	for id, f := range uf {
		out[id] = f
	}
	return out
}
