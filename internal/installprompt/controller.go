// Package installprompt 按会话维护“安装应用”横幅的状态：
// iOS 引导横幅、延迟的浏览器安装提示以及关闭记录。
package installprompt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/shellcache/shellcache/internal/logging"
)

var (
	// ErrSessionNotFound 表示会话不存在或已过期。
	ErrSessionNotFound = errors.New("install session not found")
	// ErrNoDeferredPrompt 表示尚未收到 beforeinstallprompt，无法触发安装。
	ErrNoDeferredPrompt = errors.New("no deferred install prompt available")
	// ErrUnknownEvent 表示事件类型无法识别。
	ErrUnknownEvent = errors.New("unknown install event")
	// ErrInvalidOutcome 表示 install 事件的 outcome 不是 accepted/dismissed。
	ErrInvalidOutcome = errors.New("invalid install outcome")
)

// 事件类型。
const (
	EventBeforeInstallPrompt = "beforeinstallprompt"
	EventAppInstalled        = "appinstalled"
	EventDismiss             = "dismiss"
	EventDismissIOS          = "dismiss-ios"
	EventInstall             = "install"
)

// 安装结果。
const (
	OutcomeAccepted  = "accepted"
	OutcomeDismissed = "dismissed"
)

// Event 是客户端上报的单个事件。
type Event struct {
	Type    string `json:"type"`
	Outcome string `json:"outcome,omitempty"`
}

// Controller 用 go-cache 保存会话，过期会话自动清理。
type Controller struct {
	mu       sync.Mutex
	sessions *gocache.Cache
	ttl      time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewController 创建 Controller；ttl<=0 时默认 30 分钟。
func NewController(ttl time.Duration, logger *logrus.Logger) *Controller {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		sessions: gocache.New(ttl, ttl),
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock 替换时间源，用于测试定时行为。
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// NewSession 创建会话并返回初始快照。
func (c *Controller) NewSession(opts SessionOptions) View {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := newSession(uuid.NewString(), opts, c.now())
	c.sessions.Set(s.id, s, gocache.DefaultExpiration)
	c.logger.WithFields(logrus.Fields{
		"action":     "install_session",
		"session":    s.id,
		"ios":        s.ios,
		"mobile":     s.mobile,
		"standalone": s.standalone,
	}).Debug("session created")
	return s.view()
}

// Get 推进定时器后返回快照。
func (c *Controller) Get(id string) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(id)
	if err != nil {
		return View{}, err
	}
	s.advance(c.now())
	return s.view(), nil
}

// Apply 处理单个事件。
func (c *Controller) Apply(id string, ev Event) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookup(id)
	if err != nil {
		return View{}, err
	}
	now := c.now()
	s.advance(now)

	switch ev.Type {
	case EventBeforeInstallPrompt:
		s.deferredPrompt = true
		if !s.standalone && !s.dismissed && !s.installed {
			s.installVisible = true
			s.installHideAt = now.Add(InstallBannerDuration)
		}
	case EventAppInstalled:
		s.installed = true
		s.hideInstall()
		c.logger.WithFields(logrus.Fields{
			"action":  "pwa_install",
			"session": s.id,
		}).Info("app installed")
	case EventDismiss:
		s.hideInstall()
		s.dismissed = true
	case EventDismissIOS:
		s.iosVisible = false
		s.iosHideAt = time.Time{}
		s.iosShowAt = time.Time{}
		s.iosDismissed = true
	case EventInstall:
		if ev.Outcome != OutcomeAccepted && ev.Outcome != OutcomeDismissed {
			return s.view(), fmt.Errorf("%w: %q", ErrInvalidOutcome, ev.Outcome)
		}
		if !s.deferredPrompt {
			return s.view(), ErrNoDeferredPrompt
		}
		s.outcome = ev.Outcome
		s.deferredPrompt = false
		s.hideInstall()
		c.logger.WithFields(logrus.Fields{
			"action":  "install_prompt",
			"session": s.id,
			"outcome": ev.Outcome,
		}).Info("install prompt answered")
	default:
		return s.view(), fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	c.sessions.Set(s.id, s, gocache.DefaultExpiration)
	return s.view(), nil
}

// Count 返回当前存活的会话数。
func (c *Controller) Count() int {
	return c.sessions.ItemCount()
}

func (c *Controller) lookup(id string) (*session, error) {
	value, ok := c.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s, ok := value.(*session)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (s *session) hideInstall() {
	s.installVisible = false
	s.installHideAt = time.Time{}
}
