// Package uniqueness implements the Response-Uniqueness Filter (C5): a
// per-user model of recent reply shape used to decide whether a freshly
// generated reply is too similar to what that user was just shown, and — if
// so — to nudge the system prompt toward a different phrasing rather than
// rewriting the reply itself.
//
// The filter holds no opinion on what "too similar" means for the whole
// bot — similarity is judged per user, against that user's own last few
// replies, with a threshold that adapts to how chatty and how verbose that
// user's conversation has been.
package uniqueness
