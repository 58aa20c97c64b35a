package auth

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// GenerateToken : 데이터 API용 bearer 토큰 생성 (HS256).
// 쿼리 파라미터가 있으면 SHA512 query hash를 claim에 포함한다.
func GenerateToken(accessKey, secretKey string, params map[string]string) (string, error) {
	nonce := strconv.FormatInt(time.Now().UnixNano(), 10) + "_" + strconv.Itoa(rand.Intn(100000))
	claims := jwt.MapClaims{
		"access_key": accessKey,
		"nonce":      nonce,
	}

	if len(params) > 0 {
		claims["query_hash"] = MakeQueryHash(params)
		claims["query_hash_alg"] = "SHA512"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// MakeQueryHash : key 정렬 후 "k=v"를 &로 이어붙여 SHA512 해시
func MakeQueryHash(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	query := strings.Join(parts, "&")

	hash := sha512.Sum512([]byte(query))
	return hex.EncodeToString(hash[:])
}
