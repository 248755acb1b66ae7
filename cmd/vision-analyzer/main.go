package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"vision-analyzer-go/internal/bootstrap"
)

// @title Vision Analyzer API
// @version 1.0
// @description 多模态记录分析服务
// @BasePath /api
func main() {
	fmt.Printf("[%s] [INFO] [引导] 开始启动 vision-analyzer...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "vision-analyzer failed: %v\n", err)
		os.Exit(1)
	}
}
