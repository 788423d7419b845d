package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"trustmarket/internal/config"
	"trustmarket/internal/service"
)

// IPFSStore ContentStore 的 IPFS 实现，走 IPFS 节点的 HTTP API
type IPFSStore struct {
	apiURL string
	client *http.Client
}

var _ service.ContentStore = (*IPFSStore)(nil)

func NewIPFSStore(cfg *config.ContentConfig) *IPFSStore {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &IPFSStore{
		apiURL: cfg.APIURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Put 序列化对象并写入 IPFS，返回 ipfs:// 引用
//
// 【关键点】这一步必须在订单落库之前完成：引用要随订单一起提交，
// 而这里失败时本地还没有任何写入，直接中止即可，不需要补偿
func (s *IPFSStore) Put(ctx context.Context, obj interface{}) (string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("序列化元数据失败: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "metadata.json")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/api/v0/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("上传元数据到 IPFS 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("IPFS 返回异常状态 %d: %s", resp.StatusCode, string(raw))
	}

	var result struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("解析 IPFS 响应失败: %w", err)
	}
	if result.Hash == "" {
		return "", fmt.Errorf("IPFS 响应缺少 Hash 字段")
	}

	return "ipfs://" + result.Hash, nil
}
