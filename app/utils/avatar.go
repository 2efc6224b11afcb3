package utils

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// AvatarSize 头像输出尺寸
const AvatarSize = 256

// 默认头像的背景配色
var avatarPalette = [][3]float64{
	{0.91, 0.30, 0.24},
	{0.20, 0.60, 0.86},
	{0.15, 0.68, 0.38},
	{0.95, 0.61, 0.07},
	{0.61, 0.35, 0.71},
	{0.10, 0.74, 0.61},
}

// SaveAvatar 解码上传的头像，居中裁剪缩放到固定尺寸后保存
func SaveAvatar(r io.Reader, destPath string) error {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("解码头像失败: %w", err)
	}

	thumb := imaging.Fill(img, AvatarSize, AvatarSize, imaging.Center, imaging.Lanczos)
	if err := imaging.Save(thumb, destPath); err != nil {
		return fmt.Errorf("保存头像失败: %w", err)
	}
	return nil
}

// DefaultAvatarPNG 为没有上传头像的用户生成带首字母的占位头像
func DefaultAvatarPNG(username string) ([]byte, error) {
	h := fnv.New32a()
	h.Write([]byte(username))
	color := avatarPalette[int(h.Sum32())%len(avatarPalette)]

	dc := gg.NewContext(AvatarSize, AvatarSize)
	dc.SetRGB(color[0], color[1], color[2])
	dc.Clear()

	initial := "?"
	if username != "" {
		initial = strings.ToUpper(username[:1])
	}

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(initial, AvatarSize/2, AvatarSize/2, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("生成默认头像失败: %w", err)
	}
	return buf.Bytes(), nil
}
