package executor

import (
	"context"
	"encoding/json"

	"github.com/oriys/stratus/internal/config"
	"github.com/oriys/stratus/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Daemons 管理周期性的系统请求。
// 目前只有集群状态的后台刷新：按配置的 cron 表达式定期以
// is_system 身份提交一次 cluster.status 请求，走 non_blocking
// 池，不出现在默认列表里。
type Daemons struct {
	cron   *cron.Cron
	logger *logrus.Logger
}

// StartDaemons 注册并启动所有周期任务。
func StartDaemons(cfg config.DaemonsConfig, exec *Executor, logger *logrus.Logger) (*Daemons, error) {
	c := cron.New()
	if cfg.StatusRefreshCron != "" {
		payload, err := json.Marshal(&domain.ClusterStatusPayload{Refresh: true})
		if err != nil {
			return nil, err
		}
		_, err = c.AddFunc(cfg.StatusRefreshCron, func() {
			_, err := exec.Schedule(context.Background(), ScheduleParams{
				Kind:         domain.OpClusterStatus,
				Payload:      payload,
				ScheduleType: domain.ScheduleTypeNonBlocking,
				IsSystem:     true,
			})
			if err != nil {
				logger.WithError(err).Warn("Failed to schedule status refresh")
			}
		})
		if err != nil {
			return nil, err
		}
		logger.WithField("cron", cfg.StatusRefreshCron).Info("Status refresh daemon enabled")
	}
	c.Start()
	return &Daemons{cron: c, logger: logger}, nil
}

// Stop 停止所有周期任务，等待进行中的触发完成。
func (d *Daemons) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}
