package installprompt

import (
	"regexp"
	"time"
)

const (
	// IOSBannerDelay 是页面加载后展示 iOS 引导横幅的延迟。
	IOSBannerDelay = 3 * time.Second
	// IOSBannerDuration 之后 iOS 横幅自动隐藏并记为已关闭。
	IOSBannerDuration = 8 * time.Second
	// InstallBannerDuration 之后安装横幅自动隐藏。
	InstallBannerDuration = 10 * time.Second
)

var (
	iosPattern    = regexp.MustCompile(`iPad|iPhone|iPod`)
	mobilePattern = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)
)

// IsIOS 判断 UA 是否来自 iOS 设备。
func IsIOS(userAgent string) bool {
	return iosPattern.MatchString(userAgent)
}

// IsMobile 判断 UA 是否来自移动设备。
func IsMobile(userAgent string) bool {
	return mobilePattern.MatchString(userAgent)
}

// SessionOptions 描述客户端在页面加载时上报的信息。
type SessionOptions struct {
	UserAgent  string `json:"user_agent"`
	Standalone bool   `json:"standalone"`
	// Dismissed/IOSDismissed 来自客户端持久化的关闭记录。
	Dismissed    bool `json:"dismissed"`
	IOSDismissed bool `json:"ios_dismissed"`
}

// session 是单个页面会话的可变状态，只在 Controller 锁内访问。
type session struct {
	id         string
	createdAt  time.Time
	ios        bool
	mobile     bool
	standalone bool

	deferredPrompt bool
	dismissed      bool
	iosDismissed   bool
	installed      bool
	outcome        string

	installVisible bool
	installHideAt  time.Time

	iosShowAt  time.Time
	iosVisible bool
	iosHideAt  time.Time
}

func newSession(id string, opts SessionOptions, now time.Time) *session {
	s := &session{
		id:           id,
		createdAt:    now,
		ios:          IsIOS(opts.UserAgent),
		mobile:       IsMobile(opts.UserAgent),
		standalone:   opts.Standalone,
		dismissed:    opts.Dismissed,
		iosDismissed: opts.IOSDismissed,
	}
	if s.ios && !s.standalone {
		s.iosShowAt = now.Add(IOSBannerDelay)
	}
	return s
}

// advance 按当前时间推进定时器：到点展示 iOS 横幅，到点自动隐藏。
func (s *session) advance(now time.Time) {
	if !s.iosShowAt.IsZero() && !now.Before(s.iosShowAt) {
		due := s.iosShowAt
		s.iosShowAt = time.Time{}
		if !s.iosDismissed {
			s.iosVisible = true
			s.iosHideAt = due.Add(IOSBannerDuration)
		}
	}
	if s.iosVisible && !now.Before(s.iosHideAt) {
		s.iosVisible = false
		s.iosDismissed = true
		s.iosHideAt = time.Time{}
	}
	if s.installVisible && !now.Before(s.installHideAt) {
		s.installVisible = false
		s.installHideAt = time.Time{}
	}
}

func (s *session) nextChange() *time.Time {
	var next time.Time
	for _, t := range []time.Time{s.iosShowAt, s.iosHideAt, s.installHideAt} {
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	if next.IsZero() {
		return nil
	}
	return &next
}

// View 是会话对外暴露的只读快照。
type View struct {
	ID             string     `json:"id"`
	IOS            bool       `json:"ios"`
	Mobile         bool       `json:"mobile"`
	Standalone     bool       `json:"standalone"`
	DeferredPrompt bool       `json:"deferred_prompt"`
	InstallBanner  bool       `json:"install_banner"`
	IOSBanner      bool       `json:"ios_banner"`
	Dismissed      bool       `json:"dismissed"`
	IOSDismissed   bool       `json:"ios_dismissed"`
	Installed      bool       `json:"installed"`
	Outcome        string     `json:"outcome,omitempty"`
	NextChangeAt   *time.Time `json:"next_change_at,omitempty"`
}

func (s *session) view() View {
	return View{
		ID:             s.id,
		IOS:            s.ios,
		Mobile:         s.mobile,
		Standalone:     s.standalone,
		DeferredPrompt: s.deferredPrompt,
		InstallBanner:  s.installVisible,
		IOSBanner:      s.iosVisible,
		Dismissed:      s.dismissed,
		IOSDismissed:   s.iosDismissed,
		Installed:      s.installed,
		Outcome:        s.outcome,
		NextChangeAt:   s.nextChange(),
	}
}
