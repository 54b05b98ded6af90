package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 site/domain/策略/缓存结果字段，供代理请求日志复用。
func RequestFields(site, domain, strategy, outcome string) logrus.Fields {
	return logrus.Fields{
		"site":      site,
		"domain":    domain,
		"strategy":  strategy,
		"outcome":   outcome,
		"cache_hit": outcome == "hit" || outcome == "stale",
	}
}

// PartitionFields 描述缓存分区操作的通用字段。
func PartitionFields(action, partition string) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"partition": partition,
	}
}
