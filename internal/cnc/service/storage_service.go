package service

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// presignExpiry 预签名下载链接有效期
const presignExpiry = 15 * time.Minute

// StorageService 对象存储服务
// 手动上传NC文件的归档副本和队列任务文件的预签名下载；
// minio未配置时client为nil，相关能力整体降级
type StorageService struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewStorageService 创建对象存储服务
func NewStorageService(client *minio.Client, bucket string, logger *zap.Logger) *StorageService {
	return &StorageService{client: client, bucket: bucket, logger: logger}
}

// PresignJobFile 为队列任务的源文件生成预签名下载链接
func (s *StorageService) PresignJobFile(ctx context.Context, job *entity.Job) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("%w: 对象存储未配置", ErrValidation)
	}
	if job.S3Key == "" {
		return "", fmt.Errorf("%w: 任务没有关联的存储对象", ErrValidation)
	}
	bucket := job.S3Bucket
	if bucket == "" {
		bucket = s.bucket
	}

	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition",
		fmt.Sprintf(`attachment; filename="%s"`, job.FileName))
	u, err := s.client.PresignedGetObject(ctx, bucket, job.S3Key, presignExpiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("生成预签名链接失败: %w", err)
	}
	return u.String(), nil
}

// ArchiveManualFile 归档手动上传的NC文件原文，返回对象key
func (s *StorageService) ArchiveManualFile(ctx context.Context, machineID, fileName string, content []byte, contentType string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("对象存储未配置")
	}

	key := fmt.Sprintf("cnc-manual/%s/%s-%s", machineID,
		time.Now().Format("20060102-150405"), fileName)
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("归档上传失败: %w", err)
	}

	s.logger.Info("手动文件已归档",
		zap.String("machine_id", machineID),
		zap.String("key", key),
	)
	return key, nil
}
