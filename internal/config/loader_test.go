package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
Origin = "https://app.local"
APIMaxAge = "boom"

[[Site]]
Name = "app"
Domain = "app.local"
Upstream = "http://127.0.0.1:8080"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadParsesRulesAndIntegerSeconds(t *testing.T) {
	cfg := `
StorageBackend = "memory"
Origin = "http://app.local"
APIMaxAge = 60
StampStaticEntries = false

[Routing]
APIPrefixes = ["/v1/"]

[[Rule]]
Name = "images"
Extensions = ["png"]
MaxAge = "1h"

[[Site]]
Name = "app"
Domain = "app.local"
Scheme = "http"
Upstream = "http://127.0.0.1:8080"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.APIMaxAge.DurationValue() != time.Minute {
		t.Fatalf("整数秒应被解析为 1m，得到 %s", loaded.Global.APIMaxAge.DurationValue())
	}
	if loaded.Global.StampStaticEntries {
		t.Fatalf("显式关闭 StampStaticEntries 应生效")
	}
	if len(loaded.Rules) != 1 || loaded.Rules[0].MaxAge.DurationValue() != time.Hour {
		t.Fatalf("自定义 Rule 解析错误: %+v", loaded.Rules)
	}
	if len(loaded.Routing.APIPrefixes) != 1 || loaded.Routing.APIPrefixes[0] != "/v1/" {
		t.Fatalf("Routing.APIPrefixes 解析错误: %v", loaded.Routing.APIPrefixes)
	}
	if len(loaded.Routing.DelegatePrefixes) == 0 {
		t.Fatalf("未配置的 Routing 字段应填充默认值")
	}
}
