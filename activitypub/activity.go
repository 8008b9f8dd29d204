package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnsupportedActivity = errors.New("unsupported activity")
	ErrMalformedActivity   = errors.New("malformed activity")
)

// Envelope holds the fields every activity shares.
type Envelope struct {
	Id        string
	Actor     string
	To        []string
	Cc        []string
	Published time.Time
	Doc       Document
}

func (e *Envelope) envelope() *Envelope { return e }

// Activity is one of the inbound activity types below. The set is closed:
// every implementation lives in this file and Visitor has a method for each.
type Activity interface {
	envelope() *Envelope
	Type() string
	Visit(ctx context.Context, v Visitor) Result
}

type Visitor interface {
	VisitCreate(ctx context.Context, a *CreateActivity) Result
	VisitFollow(ctx context.Context, a *FollowActivity) Result
	VisitAccept(ctx context.Context, a *AcceptActivity) Result
	VisitReject(ctx context.Context, a *RejectActivity) Result
	VisitLike(ctx context.Context, a *LikeActivity) Result
	VisitAnnounce(ctx context.Context, a *AnnounceActivity) Result
	VisitDelete(ctx context.Context, a *DeleteActivity) Result
	VisitUndo(ctx context.Context, a *UndoActivity) Result
}

// CreateActivity carries a Note or Question.
type CreateActivity struct {
	Envelope
	Object Document
}

type FollowActivity struct {
	Envelope
	Object string
}

// AcceptActivity answers a follow request. Follow is set when the request
// was embedded, ObjectId always names it.
type AcceptActivity struct {
	Envelope
	ObjectId string
	Follow   *FollowActivity
}

type RejectActivity struct {
	Envelope
	ObjectId string
	Follow   *FollowActivity
}

type LikeActivity struct {
	Envelope
	Object string
}

// AnnounceActivity boosts ObjectId. Object is the embedded copy when the
// sender included one.
type AnnounceActivity struct {
	Envelope
	ObjectId string
	Object   Document
}

type DeleteActivity struct {
	Envelope
	ObjectId string
}

// UndoActivity reverts Inner, or the activity named by ObjectId when only a
// reference was sent.
type UndoActivity struct {
	Envelope
	ObjectId string
	Inner    Activity
}

func (a *CreateActivity) Type() string   { return "Create" }
func (a *FollowActivity) Type() string   { return "Follow" }
func (a *AcceptActivity) Type() string   { return "Accept" }
func (a *RejectActivity) Type() string   { return "Reject" }
func (a *LikeActivity) Type() string     { return "Like" }
func (a *AnnounceActivity) Type() string { return "Announce" }
func (a *DeleteActivity) Type() string   { return "Delete" }
func (a *UndoActivity) Type() string     { return "Undo" }

func (a *CreateActivity) Visit(ctx context.Context, v Visitor) Result   { return v.VisitCreate(ctx, a) }
func (a *FollowActivity) Visit(ctx context.Context, v Visitor) Result   { return v.VisitFollow(ctx, a) }
func (a *AcceptActivity) Visit(ctx context.Context, v Visitor) Result   { return v.VisitAccept(ctx, a) }
func (a *RejectActivity) Visit(ctx context.Context, v Visitor) Result   { return v.VisitReject(ctx, a) }
func (a *LikeActivity) Visit(ctx context.Context, v Visitor) Result     { return v.VisitLike(ctx, a) }
func (a *AnnounceActivity) Visit(ctx context.Context, v Visitor) Result { return v.VisitAnnounce(ctx, a) }
func (a *DeleteActivity) Visit(ctx context.Context, v Visitor) Result   { return v.VisitDelete(ctx, a) }
func (a *UndoActivity) Visit(ctx context.Context, v Visitor) Result     { return v.VisitUndo(ctx, a) }

// EnvelopeOf exposes the shared fields of any activity.
func EnvelopeOf(a Activity) *Envelope {
	return a.envelope()
}

// Parse turns a compacted document into its activity variant.
func Parse(doc Document) (Activity, error) {
	return parse(doc, true)
}

func parse(doc Document, outer bool) (Activity, error) {
	env := Envelope{
		Id:        doc.String("id"),
		Actor:     doc.Id("actor"),
		To:        doc.Strings("to"),
		Cc:        doc.Strings("cc"),
		Published: doc.Time("published"),
		Doc:       doc,
	}
	// embedded activities may omit both
	if outer && env.Id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedActivity)
	}
	if outer && env.Actor == "" {
		return nil, fmt.Errorf("%w: missing actor", ErrMalformedActivity)
	}

	objectId := doc.Id("object")
	switch doc.Type() {
	case "Create":
		object, ok := doc.Object("object")
		if !ok {
			return nil, fmt.Errorf("%w: create without embedded object", ErrMalformedActivity)
		}
		if t := object.Type(); t != "Note" && t != "Question" {
			return nil, fmt.Errorf("%w: Create{%s}", ErrUnsupportedActivity, t)
		}
		if object.String("id") == "" {
			return nil, fmt.Errorf("%w: object without id", ErrMalformedActivity)
		}
		return &CreateActivity{Envelope: env, Object: object}, nil

	case "Follow":
		if objectId == "" {
			return nil, fmt.Errorf("%w: follow without object", ErrMalformedActivity)
		}
		return &FollowActivity{Envelope: env, Object: objectId}, nil

	case "Accept", "Reject":
		if objectId == "" {
			return nil, fmt.Errorf("%w: %s without object", ErrMalformedActivity, doc.Type())
		}
		var follow *FollowActivity
		if object, ok := doc.Object("object"); ok {
			if object.Type() != "Follow" {
				return nil, fmt.Errorf("%w: %s{%s}", ErrUnsupportedActivity, doc.Type(), object.Type())
			}
			inner, err := parse(object, false)
			if err != nil {
				return nil, err
			}
			follow = inner.(*FollowActivity)
		}
		if doc.Type() == "Accept" {
			return &AcceptActivity{Envelope: env, ObjectId: objectId, Follow: follow}, nil
		}
		return &RejectActivity{Envelope: env, ObjectId: objectId, Follow: follow}, nil

	case "Like":
		if objectId == "" {
			return nil, fmt.Errorf("%w: like without object", ErrMalformedActivity)
		}
		return &LikeActivity{Envelope: env, Object: objectId}, nil

	case "Announce":
		if objectId == "" {
			return nil, fmt.Errorf("%w: announce without object", ErrMalformedActivity)
		}
		object, _ := doc.Object("object")
		return &AnnounceActivity{Envelope: env, ObjectId: objectId, Object: object}, nil

	case "Delete":
		if objectId == "" {
			return nil, fmt.Errorf("%w: delete without object", ErrMalformedActivity)
		}
		return &DeleteActivity{Envelope: env, ObjectId: objectId}, nil

	case "Undo":
		if objectId == "" {
			return nil, fmt.Errorf("%w: undo without object", ErrMalformedActivity)
		}
		undo := &UndoActivity{Envelope: env, ObjectId: objectId}
		if object, ok := doc.Object("object"); ok {
			switch object.Type() {
			case "Follow", "Like", "Announce":
			default:
				return nil, fmt.Errorf("%w: Undo{%s}", ErrUnsupportedActivity, object.Type())
			}
			inner, err := parse(object, false)
			if err != nil {
				return nil, err
			}
			undo.Inner = inner
		}
		return undo, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedActivity, doc.Type())
}
