package scene

import (
	"sync"
	"time"

	"github.com/sjawhar/ghost-puppet/internal/command"
)

// DefaultClipDuration is used for commands without a configured clip.
const DefaultClipDuration = 1500 * time.Millisecond

type Animation struct {
	Name     string          `json:"name"`
	Command  command.Command `json:"command"`
	Duration time.Duration   `json:"-"`
}

// Animator delivers an animation to whatever renders the character.
type Animator interface {
	BroadcastAnimation(a Animation)
}

// DefaultClips maps each default command to the clip the page plays for it.
func DefaultClips() map[command.Command]Animation {
	return map[command.Command]Animation{
		command.Hello: {Name: "wave_hand", Duration: 1500 * time.Millisecond},
		command.Wave:  {Name: "wave", Duration: 2 * time.Second},
		command.Jump:  {Name: "jump", Duration: time.Second},
		command.Spin:  {Name: "spin", Duration: 1200 * time.Millisecond},
		command.Dance: {Name: "dance", Duration: 3 * time.Second},
	}
}

// Character is the handle other components use to animate the loaded model.
type Character struct {
	animator Animator
	clips    map[command.Command]Animation
	now      func() time.Time

	mu        sync.Mutex
	current   Animation
	startedAt time.Time
}

func NewCharacter(animator Animator, clips map[command.Command]Animation) *Character {
	if clips == nil {
		clips = DefaultClips()
	}
	return &Character{
		animator: animator,
		clips:    clips,
		now:      time.Now,
	}
}

// Play starts the clip for ev's command, replacing any clip in progress.
func (c *Character) Play(ev command.Event) Animation {
	anim, ok := c.clips[ev.Command]
	if !ok {
		anim = Animation{Name: string(ev.Command), Duration: DefaultClipDuration}
	}
	anim.Command = ev.Command

	c.mu.Lock()
	c.current = anim
	c.startedAt = c.now()
	c.mu.Unlock()

	if c.animator != nil {
		c.animator.BroadcastAnimation(anim)
	}
	return anim
}

// Current returns the clip still playing, if any.
func (c *Character) Current() (Animation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.Name == "" {
		return Animation{}, false
	}
	if c.now().Sub(c.startedAt) >= c.current.Duration {
		return Animation{}, false
	}
	return c.current, true
}
