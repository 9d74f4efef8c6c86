package calls

import (
	"net/url"
	"strconv"
)

// TargetType is what an inbound call was aimed at.
type TargetType string

const (
	TargetProgram    TargetType = "program"
	TargetTeamMember TargetType = "team_member"
	TargetIndividual TargetType = "individual"
	TargetTeam       TargetType = "team"
)

// TransferTargetType is set on calls an agent transferred.
type TransferTargetType string

const (
	TransferToUser TransferTargetType = "user"
	TransferToTeam TransferTargetType = "team"
)

// InboundCall is one inbound call attempt as seen by routing. Redials carry the same
// CommID forward with an incremented RedialAttemptNo.
type InboundCall struct {
	ExternalCallID string
	From           string
	To             string
	CallerName     string

	CommID  string
	PartyID string

	Target   TargetType
	TargetID string

	TransferredFromUserID string
	TransferredFromCommID string
	TransferTargetType    TransferTargetType

	RedialAttemptNo int
	RedialForCommID string
	IsLeadCreated   bool
}

func (c InboundCall) IsTransfer() bool { return c.TransferTargetType != "" }

// Query parameter names carried on redial and transfer URLs.
const (
	ParamTarget                = "target"
	ParamTargetID              = "targetId"
	ParamTransferredFromUserID = "transferredFromUserId"
	ParamTransferredFromCommID = "transferredFromCommId"
	ParamTransferTargetType    = "transferTargetType"
	ParamRedialAttemptNo       = "redialAttemptNo"
	ParamRedialForCommID       = "redialForCommId"
	ParamIsLeadCreated         = "isLeadCreated"
)

// TransferParams encodes the routing context a re-entry needs.
func (c InboundCall) TransferParams() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set(ParamTarget, string(c.Target))
	set(ParamTargetID, c.TargetID)
	set(ParamTransferredFromUserID, c.TransferredFromUserID)
	set(ParamTransferredFromCommID, c.TransferredFromCommID)
	set(ParamTransferTargetType, string(c.TransferTargetType))
	set(ParamRedialForCommID, c.RedialForCommID)
	if c.RedialAttemptNo > 0 {
		v.Set(ParamRedialAttemptNo, strconv.Itoa(c.RedialAttemptNo))
	}
	if c.IsLeadCreated {
		v.Set(ParamIsLeadCreated, "true")
	}
	return v
}

// ApplyTransferParams copies routing context from q onto c.
func (c *InboundCall) ApplyTransferParams(q url.Values) {
	if v := q.Get(ParamTarget); v != "" {
		c.Target = TargetType(v)
	}
	if v := q.Get(ParamTargetID); v != "" {
		c.TargetID = v
	}
	c.TransferredFromUserID = q.Get(ParamTransferredFromUserID)
	c.TransferredFromCommID = q.Get(ParamTransferredFromCommID)
	c.TransferTargetType = TransferTargetType(q.Get(ParamTransferTargetType))
	c.RedialForCommID = q.Get(ParamRedialForCommID)
	c.RedialAttemptNo, _ = strconv.Atoi(q.Get(ParamRedialAttemptNo))
	c.IsLeadCreated = q.Get(ParamIsLeadCreated) == "true"
}
